// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/clipmux/clipmux/internal/identity"
	"github.com/clipmux/clipmux/internal/log"
	"github.com/clipmux/clipmux/internal/session"
)

const (
	// Inbound flood guard, applied per connection ahead of the per-class
	// admission limiter. Sized so an interactive client never notices it.
	floodFramesPerSecond = 50
	floodBurst           = 100

	// defaultDrainTimeout bounds the post-disconnect drain when no shutdown
	// timeout is configured.
	defaultDrainTimeout = 10 * time.Second
)

// handleSocket admits one duplex connection: resolve the caller's role,
// start a session with its four workers, then pump inbound frames through
// admission control into the session until the peer goes away.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaintenanceMode {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":       "Server is in maintenance mode",
			"maintenance": true,
		})
		return
	}

	// Role resolution happens before the upgrade; any failure degrades to
	// anonymous rather than refusing the connection.
	token := identity.TokenFromRequest(r)
	id := s.resolver.Resolve(r.Context(), token)
	clientIP := s.clientIP(r)
	userID := uuid.New().String()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.logger.Warn().
			Err(err).
			Str(log.FieldClientIP, clientIP).
			Str(log.FieldEvent, "gateway.upgrade.failed").
			Msg("websocket upgrade failed")
		return
	}

	logger := s.logger.With().
		Str(log.FieldUserID, userID).
		Str(log.FieldRole, string(id.Role)).
		Logger()
	logger.Info().
		Str(log.FieldClientIP, clientIP).
		Int("ip_sessions", s.tracker.SessionCountForIP(clientIP)).
		Str(log.FieldEvent, "gateway.connected").
		Msg("user connected")

	conn := session.NewWSConn(ws, &logger)
	sess := session.New(session.Options{
		UserID:     userID,
		Role:       id.Role,
		ClientIP:   clientIP,
		Conn:       conn,
		Chat:       s.chat,
		Studio:     s.studio,
		Video:      s.video,
		VideoSlots: session.VideoSlots(id.Role, s.pool.Size()),
		Logger:     &logger,
	})
	if err := sess.Start(r.Context()); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "gateway.session.start_failed").Msg("session start failed")
		_ = conn.Close()
		return
	}

	s.tracker.RegisterSession(userID, clientIP)
	s.sessions.Add(sess)
	defer func() {
		s.sessions.Remove(userID)
		s.tracker.UnregisterSession(userID, clientIP)

		drain := s.cfg.ShutdownTimeout
		if drain <= 0 {
			drain = defaultDrainTimeout
		}
		stopCtx, cancel := context.WithTimeout(context.Background(), drain)
		defer cancel()
		if err := sess.Stop(stopCtx); err != nil {
			logger.Warn().Err(err).Str(log.FieldEvent, "gateway.session.stop_failed").Msg("session drain incomplete")
		}
		logger.Info().Str(log.FieldEvent, "gateway.disconnected").Msg("user disconnected")
	}()

	s.readLoop(r.Context(), &logger, conn, sess)
}

// readLoop pumps inbound frames until EOF, a read error or session drain.
// Per frame: parse, classify, record, rate-check, then hand to the session.
// Handing off blocks while the target queue is full, which backpressures
// the reader instead of buffering without bound.
func (s *Server) readLoop(ctx context.Context, logger *zerolog.Logger, conn *session.WSConn, sess *session.Session) {
	flood := rate.NewLimiter(rate.Limit(floodFramesPerSecond), floodBurst)

	for {
		data, err := conn.ReadFrame()
		if err != nil {
			if !isExpectedClose(err) {
				logger.Debug().Err(err).Str(log.FieldEvent, "gateway.read.failed").Msg("read loop ended")
			}
			return
		}
		// The flood guard throttles the reader itself so a runaway client
		// saturates its own connection, not the process.
		if err := flood.Wait(ctx); err != nil {
			return
		}

		frame, err := session.ParseFrame(data)
		if err != nil {
			env := map[string]any{
				"action":  session.ActionOf(data),
				"success": false,
				"error":   "Error processing message: " + err.Error(),
			}
			if sendErr := conn.Send(env); sendErr != nil {
				return
			}
			continue
		}

		class := frame.Class()
		s.tracker.RecordRequest(sess.UserID(), sess.ClientIP(), class, sess.Role())
		if s.tracker.IsRateLimited(sess.UserID(), class, sess.Role()) {
			logger.Warn().
				Str(log.FieldAction, frame.Action).
				Str(log.FieldClass, string(class)).
				Str(log.FieldEvent, "gateway.rate_limited").
				Msg("frame refused by rate limiter")
			env := map[string]any{
				"action":    frame.Action,
				"requestId": frame.RequestID,
				"success":   false,
				"error":     "Rate limit exceeded for " + string(class),
			}
			if sendErr := conn.Send(env); sendErr != nil {
				return
			}
			continue
		}

		if err := sess.Handle(ctx, frame); err != nil {
			return
		}
	}
}

// isExpectedClose reports whether a websocket read error is an orderly
// disconnect rather than something worth logging.
func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
