package middleware

import (
	"net/http"
	"sync"

	"crosspost/domain/dto"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Throttle limits each client to rps requests per second with the given burst.
// Clients are keyed by user_id when Auth ran first, otherwise by IP.
func Throttle(rps float64, burst int) gin.HandlerFunc {
	var limiters sync.Map
	return func(ctx *gin.Context) {
		key := ctx.GetString("user_id")
		if key == "" {
			key = "ip:" + ctx.ClientIP()
		}
		v, _ := limiters.LoadOrStore(key, rate.NewLimiter(rate.Limit(rps), burst))
		if !v.(*rate.Limiter).Allow() {
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, dto.Res{ResponseCode: "429", ResponseMessage: "Too many requests"})
			return
		}
		ctx.Next()
	}
}
