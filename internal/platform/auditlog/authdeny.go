package auditlog

import (
	"context"
	"net"
	"net/netip"
	"strings"

	"github.com/animus-labs/animus-orchestrator/internal/platform/auth"
)

// AuthDeny returns an auth.AuditFunc that records rejected API calls. A
// rejected callback usually means a task runner with a stale credential.
func (w *Writer) AuthDeny() auth.AuditFunc {
	return func(ctx context.Context, event auth.DenyEvent) error {
		_, err := w.Write(ctx, authDenyEvent(event))
		return err
	}
}

func authDenyEvent(event auth.DenyEvent) Event {
	actor := strings.TrimSpace(event.Actor)
	if actor == "" {
		actor = "anonymous"
	}
	payload := map[string]any{
		"status": event.Status,
		"reason": event.Reason,
		"error":  event.Error,
	}
	if len(event.Roles) > 0 {
		payload["roles"] = event.Roles
	}
	if strings.HasPrefix(event.Path, "/callbacks/") {
		payload["correlation_id"] = strings.TrimPrefix(event.Path, "/callbacks/")
	}
	return Event{
		OccurredAt:   event.Time,
		Actor:        actor,
		Action:       "auth." + strings.TrimSpace(event.Reason),
		ResourceType: ResourceHTTP,
		ResourceID:   event.Method + " " + event.Path,
		RequestID:    event.RequestID,
		IP:           remoteIP(event.RemoteAddr),
		UserAgent:    event.UserAgent,
		Payload:      payload,
	}
}

func remoteIP(remoteAddr string) net.IP {
	addrPort, err := netip.ParseAddrPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.IP(addrPort.Addr().AsSlice())
}
