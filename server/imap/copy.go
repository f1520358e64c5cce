package imap

import (
	"errors"

	"github.com/emersion/go-imap/v2"

	"github.com/driftmail/keel/consts"
)

func (s *IMAPSession) Copy(numSet imap.NumSet, destName string) (*imap.CopyData, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	view, err := s.requireSelected()
	if err != nil {
		return nil, err
	}

	dest, err := s.server.db.GetMailboxByName(s.ctx, s.UserID(), destName)
	if err != nil {
		if errors.Is(err, consts.ErrMailboxNotFound) {
			return nil, &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Code: imap.ResponseCodeTryCreate,
				Text: "Destination mailbox does not exist",
			}
		}
		return nil, s.internalError("[COPY] failed to fetch mailbox %s: %v", destName, err)
	}

	uids := view.resolveNumSet(numSet)
	if len(uids) == 0 {
		return &imap.CopyData{UIDValidity: dest.UIDValidity}, nil
	}

	mapping, err := s.server.handler.Copy(s.ctx, s.UserID(), view.ID, dest.ID, uids, s.Id)
	if err != nil {
		return nil, s.internalError("[COPY] failed: %v", err)
	}

	copyData := &imap.CopyData{UIDValidity: dest.UIDValidity}
	for _, src := range uids {
		destUID, ok := mapping[src]
		if !ok {
			continue
		}
		copyData.SourceUIDs.AddNum(src)
		copyData.DestUIDs.AddNum(destUID)
		// Copying into the selected mailbox grows the view inline.
		if view.ID == dest.ID {
			view.insertUID(destUID)
		}
	}

	s.Log("[COPY] %d messages to %s", len(mapping), dest.Name)
	return copyData, nil
}
