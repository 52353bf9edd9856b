package middlewares

import (
	"bytes"
	"io"
	"net/http"

	"github.com/abhinavjnu/opencoop/utils"
	"github.com/abhinavjnu/opencoop/workflow"
	"github.com/gin-gonic/gin"
)

const idempotencyHeader = "Idempotency-Key"
const replayedHeader = "Idempotency-Replayed"

// IdempotencyMiddleware adapts the gate to gin. Only state-changing verbs
// carrying a client token are gated; everything else passes untouched with
// no dedup guarantee.
func IdempotencyMiddleware(gate *workflow.IdempotencyGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			c.Next()
			return
		}
		token := c.GetHeader(idempotencyHeader)
		if token == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		// The actor id scopes the gate key. Without a principal, two distinct
		// anonymous clients reusing the same token could replay each other's
		// responses, so tokened writes require authentication.
		actor, ok := utils.GetActorFromContext(c.Request.Context())
		if !ok || actor.ID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "idempotency keys require an authenticated caller"})
			c.Abort()
			return
		}
		actorId := actor.ID
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		fingerprint, err := workflow.RequestFingerprint(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unfingerprintable request body"})
			c.Abort()
			return
		}
		key := workflow.GateKey(actorId, c.Request.Method, path, token)

		result, err := gate.Begin(key, fingerprint)
		if err != nil {
			if ce, ok := utils.AsConflict(err); ok {
				c.JSON(http.StatusConflict, gin.H{"error": ce.Message, "reason": ce.Reason})
			} else {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
			c.Abort()
			return
		}

		switch result.Outcome {
		case workflow.GateReplay:
			c.Header(replayedHeader, "true")
			c.Data(result.ReplayStatus, "application/json", []byte(result.ReplayBody))
			c.Abort()
			return
		case workflow.GateDegraded:
			// Store unreachable: execute without dedup rather than blocking
			// all writes.
			c.Next()
			return
		}

		ctx := utils.SetIdempotencyTokenInContext(c.Request.Context(), token)
		c.Request = c.Request.WithContext(ctx)

		capture := &bodyCaptureWriter{ResponseWriter: c.Writer}
		c.Writer = capture
		c.Next()

		gate.Complete(key, fingerprint, capture.Status(), capture.body.String())
	}
}

// bodyCaptureWriter tees the response body so a success can be stored for
// verbatim replay.
type bodyCaptureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyCaptureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyCaptureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
