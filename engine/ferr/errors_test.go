package ferr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetailErrorsUnwrapToSentinels(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"invalid_conf", NewInvalidConf("url", "must not be empty"), ErrInvalidConf},
		{"not_found", NewNotFound("device", "abc"), ErrNotFound},
		{"in_use", NewInUse([]string{"rule-1"}), ErrInUse},
		{"wrong_state", NewWrongState("stopped", "running"), ErrWrongState},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.True(t, errors.Is(c.err, c.sentinel))
			assert.NotEmpty(t, c.err.Error())
		})
	}
}

func TestInUseErrorListsReferrers(t *testing.T) {
	err := NewInUse([]string{"rule-a", "rule-b"})
	assert.Equal(t, "resource in use by rule-a, rule-b", err.Error())
}

func TestWrappedErrorStillMatchesSentinel(t *testing.T) {
	base := NewNotFound("endpoint", "ep-1")
	wrapped := errors.New("create rule: " + base.Error())
	assert.False(t, errors.Is(wrapped, ErrNotFound), "plain string wrapping does not preserve errors.Is chains")

	properlyWrapped := errWrap(base)
	assert.True(t, errors.Is(properlyWrapped, ErrNotFound))
}

func errWrap(err error) error {
	return &wrapped{msg: "create rule", err: err}
}

type wrapped struct {
	msg string
	err error
}

func (w *wrapped) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }
