package server

import (
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// handleLeaderboardWS streams the leaderboard over a websocket: one snapshot
// on connect, then one per roster change. Slow clients coalesce bursts of
// changes into a single push.
func (s *Server) handleLeaderboardWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	// the feed is write-only: CloseRead services close and ping frames in
	// the background and cancels ctx once the client goes away
	ctx := conn.CloseRead(r.Context())

	changes := make(chan struct{}, 1)
	unsubscribe := s.store.Subscribe(func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		board, err := s.league.Leaderboard(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("leaderboard read for feed failed")
			conn.Close(websocket.StatusInternalError, "leaderboard unavailable")
			return
		}
		if err := wsjson.Write(ctx, conn, board); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-changes:
		}
	}
}
