package imap

import "fmt"

// quotaStatus is a point-in-time reading of the account's storage
// quota. A zero limit means the account is unlimited.
type quotaStatus struct {
	UsedBytes  int64
	LimitBytes int64
}

func (q quotaStatus) limited() bool {
	return q.LimitBytes > 0
}

func (q quotaStatus) String() string {
	if !q.limited() {
		return fmt.Sprintf("%d bytes used, no limit", q.UsedBytes)
	}
	return fmt.Sprintf("%d of %d bytes used", q.UsedBytes, q.LimitBytes)
}

// quota reads the current storage usage and limit for the logged-in
// user.
func (s *IMAPSession) quota() (quotaStatus, error) {
	var status quotaStatus

	used, err := s.server.db.GetStorageUsed(s.ctx, s.UserID())
	if err != nil {
		return status, err
	}
	status.UsedBytes = used

	limit, err := s.server.db.GetQuota(s.ctx, s.UserID())
	if err != nil {
		return status, err
	}
	if limit == nil && s.server.handler.DefaultQuota > 0 {
		status.LimitBytes = s.server.handler.DefaultQuota
	} else if limit != nil {
		status.LimitBytes = *limit
	}
	return status, nil
}
