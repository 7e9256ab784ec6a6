// Package gin provides Gin-compatible middleware for x402 payment gating.
// It is a thin adapter over the gate package: all decision logic lives there.
package gin

import (
	"github.com/gin-gonic/gin"

	"github.com/payrail/x402gate/gate"
	"github.com/payrail/x402gate/header"
)

// PaymentKey is the gin context key under which the verification result is
// stored for handlers behind the gate.
const PaymentKey = "x402gate_payment"

// Middleware adapts a Gate to a gin.HandlerFunc. On a successful payment the
// verification result is available via c.Get(PaymentKey) and the chain
// continues; otherwise the request is answered with 402 and aborted.
func Middleware(g *gate.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		if g.Exempt(c.Request.URL.Path) {
			c.Next()
			return
		}

		decision := g.Handle(c.Request)
		switch decision.Kind {
		case gate.DecisionChallenge:
			g.WriteChallenge(c.Writer, c.Request, decision)
			c.Abort()

		case gate.DecisionReject:
			g.WriteRejection(c.Writer, decision)
			c.Abort()

		case gate.DecisionForward:
			if encoded, err := header.EncodeReceipt(*decision.Receipt); err == nil {
				c.Writer.Header().Set(header.PaymentResponse, encoded)
			}
			c.Set(PaymentKey, decision.Result)
			c.Next()
		}
	}
}
