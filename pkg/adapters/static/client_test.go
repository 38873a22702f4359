package static_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aretw0/parley/pkg/adapters/static"
	"github.com/aretw0/parley/pkg/domain"
)

func TestClient(t *testing.T) {
	out, err := static.Client{}.Complete(context.Background(), domain.Prompt{User: "hi"})
	assert.NoError(t, err)
	assert.Equal(t, "You said: hi", out.Response)

	out, err = static.Client{Reply: "fixed"}.Complete(context.Background(), domain.Prompt{User: "hi"})
	assert.NoError(t, err)
	assert.Equal(t, "fixed", out.Response)
}
