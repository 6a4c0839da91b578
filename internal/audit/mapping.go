package audit

import (
	"sessionauth/internal/audit/domain"
	sessiondomain "sessionauth/internal/session/domain"
)

// ActionForEvent returns the audit action recorded for a session event kind.
func ActionForEvent(kind sessiondomain.EventKind) string {
	switch kind {
	case sessiondomain.EventIssued:
		return domain.ActionLogin
	case sessiondomain.EventRotated:
		return domain.ActionRefresh
	case sessiondomain.EventRejected:
		return domain.ActionRefreshRejected
	case sessiondomain.EventReplay:
		return domain.ActionReplayDetected
	case sessiondomain.EventRevoked:
		return domain.ActionRevoke
	default:
		return string(kind)
	}
}

// metadataForEvent returns the JSONB payload for e, or nil when there is nothing beyond the columns.
func metadataForEvent(e sessiondomain.Event) map[string]any {
	if len(e.Affected) == 0 {
		return nil
	}
	return map[string]any{
		"affected_session_ids": append([]string(nil), e.Affected...),
		"affected_count":       len(e.Affected),
	}
}
