package firewatch

import (
	"testing"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	th "github.com/launchdarkly/go-test-helpers/v3"
	"github.com/stretchr/testify/assert"
)

func TestIdentityHolder(t *testing.T) {
	t.Run("starts with no identity", func(t *testing.T) {
		h := NewIdentityHolder()
		defer h.Close()
		assert.False(t, h.Current().IsDefined())
	})

	t.Run("set and clear notify listeners", func(t *testing.T) {
		h := NewIdentityHolder()
		defer h.Close()
		ch := h.AddListener()

		h.SetIdentity("u1")
		assert.Equal(t, ldvalue.NewOptionalString("u1"), th.RequireValue(t, ch, time.Second))
		assert.Equal(t, "u1", h.Current().StringValue())

		h.ClearIdentity()
		assert.Equal(t, ldvalue.OptionalString{}, th.RequireValue(t, ch, time.Second))
		assert.False(t, h.Current().IsDefined())
	})

	t.Run("setting the current identity again notifies no one", func(t *testing.T) {
		h := NewIdentityHolder()
		defer h.Close()
		h.SetIdentity("u1")
		ch := h.AddListener()

		h.SetIdentity("u1")
		th.AssertNoMoreValues(t, ch, 50*time.Millisecond)

		h.ClearIdentity()
		_ = th.RequireValue(t, ch, time.Second)
		h.ClearIdentity()
		th.AssertNoMoreValues(t, ch, 50*time.Millisecond)
	})
}

func TestTrigger(t *testing.T) {
	tr := NewTrigger()
	defer tr.Close()
	ch1 := tr.AddListener()
	ch2 := tr.AddListener()

	tr.Fire()
	_ = th.RequireValue(t, ch1, time.Second)
	_ = th.RequireValue(t, ch2, time.Second)

	tr.RemoveListener(ch2)
	th.AssertChannelClosed(t, ch2, time.Second)

	tr.Fire()
	_ = th.RequireValue(t, ch1, time.Second)
}
