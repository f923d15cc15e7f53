package httpx

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// ActorHeader carries the acting user id on API requests.
const ActorHeader = "X-Actor-ID"

// Actor stores the X-Actor-ID header in the request context. Requests
// without the header run as actor 0.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(ActorHeader))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		actorID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || actorID < 0 {
			Problem(w, http.StatusBadRequest, "Validation Failed", ActorHeader+" must be a non-negative integer")
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actorID)))
	})
}
