package signflow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/digitorus/signflow/pages"
	"github.com/digitorus/signflow/placement"
	"github.com/digitorus/signflow/routing"
	"github.com/digitorus/signflow/sharelink"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindUnknown},
		{errors.New("boom"), KindUnknown},
		{fmt.Errorf("x: %w", pages.ErrLastPageUndeletable), KindLastPageUndeletable},
		{pages.ErrFileTooLarge, KindFileTooLarge},
		{pages.ErrInvalidRotation, KindValidation},
		{routing.ErrSignerOutOfTurn, KindSignerOutOfTurn},
		{routing.ErrUnknownParticipant, KindSignerNotFound},
		{sharelink.ErrMalformedToken, KindMalformedToken},
		{placement.ErrIncomplete, KindValidation},
		{fmt.Errorf("load: %w", ErrNotFound), KindNotFound},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), "%v", tt.err)
	}
}

func TestWrap(t *testing.T) {
	err := wrap("send", "d1", KindStorageFailure, invalid("no signers"))
	assert.EqualError(t, err, "send: document d1: validation failed: no signers")
	assert.ErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrStorageFailure)

	again := wrap("outer", "d2", KindUnknown, err)
	assert.Same(t, err, again, "an operation error is not wrapped twice")

	err = wrap("load", "d1", KindStorageFailure, errors.New("disk"))
	assert.ErrorIs(t, err, ErrStorageFailure)

	err = wrap("get", "d1", KindStorageFailure, ErrNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, ErrNotFound.Op, "sentinels are never modified")
}

func TestExpiredMatchesLocked(t *testing.T) {
	err := wrap("submit", "d1", KindDocumentExpired, lockedError(&Document{Status: Expired}))
	assert.ErrorIs(t, err, ErrDocumentExpired)
	assert.ErrorIs(t, err, ErrDocumentLocked)
	assert.Equal(t, KindDocumentExpired, KindOf(err))

	err = lockedError(&Document{Status: Completed})
	assert.ErrorIs(t, err, ErrDocumentLocked)
	assert.NotErrorIs(t, err, ErrDocumentExpired)
}
