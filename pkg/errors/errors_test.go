package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithContext(t *testing.T) {
	assert.NoError(t, WithContext(nil, "ignored"))

	base := New("boom")
	wrapped := WithContext(WithContext(base, "read"), "sync file")
	assert.Equal(t, "sync file: read: boom", wrapped.Error())
	assert.Equal(t, base, RootCause(wrapped))
	assert.True(t, Is(wrapped, base))
}

func TestNewFormatsArgs(t *testing.T) {
	assert.Equal(t, "plain", New("plain").Error())
	assert.Equal(t, "value 3", New("value %d", 3).Error())
}

func TestGetPrintableMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		exp  string
	}{
		{
			name: "Plain",
			err:  WithContext(New("boom"), "open"),
			exp:  "open: boom",
		},
		{
			name: "Friendly",
			err:  WithContext(NewFriendlyError("The directory %q is missing.", "/tmp/x"), "upload"),
			exp:  `The directory "/tmp/x" is missing.`,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.exp, GetPrintableMessage(test.err))
		})
	}
}

func TestTransferFailedUnwraps(t *testing.T) {
	err := WithContext(TransferFailedError{Path: "a", Attempts: 4, Err: ErrAckTimeout}, "walk")
	assert.True(t, Is(err, ErrAckTimeout))

	var tfErr TransferFailedError
	assert.True(t, As(err, &tfErr))
	assert.Equal(t, 4, tfErr.Attempts)
}
