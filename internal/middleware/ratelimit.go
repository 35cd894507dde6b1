package middleware

import (
	"fmt"
	"net/http"
	"time"

	rediskey "kanban/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// luaRateLimit is an atomic sliding window.
// KEYS[1]=key, ARGV[1]=now, ARGV[2]=window start, ARGV[3]=window seconds, ARGV[4]=member, ARGV[5]=limit.
// Returns the count in the window including this request, or -1 when over the limit.
const luaRateLimit = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowSec = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)

local count = redis.call('ZCARD', key)

if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, member)
  redis.call('EXPIRE', key, windowSec)
  return count + 1
else
  return -1
end
`

// ScanRateLimit limits public scans per card and client IP. A Redis failure lets the request through.
func ScanRateLimit(rdb rd.Scripter, limit int, window time.Duration, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	windowSec := int64(window.Seconds())
	if windowSec <= 0 {
		windowSec = 1
	}
	return func(c *gin.Context) {
		key := rediskey.ScanRateLimitKey(c.Param("card_id"), c.ClientIP())

		now := time.Now()
		member := fmt.Sprintf("%d-%d", now.Unix(), now.UnixNano())
		res, err := rdb.Eval(c.Request.Context(), luaRateLimit, []string{key},
			now.Unix(), now.Unix()-windowSec, windowSec, member, limit).Int()
		if err != nil {
			log.Warn("scan rate limit unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		if res < 0 {
			c.Header("Retry-After", fmt.Sprintf("%d", windowSec))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": "RATE_LIMITED",
				"msg":  "too many scans for this card, try again later",
			})
			return
		}
		c.Next()
	}
}
