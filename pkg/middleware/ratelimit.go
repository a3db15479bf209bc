package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// minIdleTTL はリミッタを破棄するまでの最短の未使用期間。
const minIdleTTL = time.Minute

// limiterEntry はリミッタと最後に使われた時刻。
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterStore はキーごとのレートリミッタを保持する。
// idleTTLの間使われなかったリミッタは次の掃除で破棄されるため、
// 保持数は直近idleTTLの間にアクセスしたキーの数に収まる。
type limiterStore struct {
	// limiters はキー（ユーザーIDまたはクライアントIP）からリミッタへのマップ。
	limiters map[string]*limiterEntry
	// mu はlimitersへの並行アクセスを保護するミューテックス。
	mu sync.Mutex
	// every はトークン補充間隔。
	every time.Duration
	// burst はバースト許容量。
	burst int
	// idleTTL はリミッタを破棄するまでの未使用期間。バケットが満杯に戻る時間以上にする。
	idleTTL time.Duration
	// lastSweep は最後に掃除した時刻。
	lastSweep time.Time
	// now は現在時刻を返す。
	now func() time.Time
}

// newLimiterStore はevery間隔でトークンを補充するリミッタのストアを生成する。
func newLimiterStore(every time.Duration, burst int) *limiterStore {
	ttl := every * time.Duration(burst)
	if ttl < minIdleTTL {
		ttl = minIdleTTL
	}
	return &limiterStore{
		limiters:  make(map[string]*limiterEntry),
		every:     every,
		burst:     burst,
		idleTTL:   ttl,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// get はキーに対応するリミッタを返す。存在しなければ生成する。
func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= s.idleTTL {
		s.sweep(now)
	}

	e, ok := s.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Every(s.every), s.burst)}
		s.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// sweep はidleTTL以上使われていないリミッタを破棄する。
// 破棄されるリミッタのバケットは満杯に戻っているので、作り直しても挙動は変わらない。
func (s *limiterStore) sweep(now time.Time) {
	for key, e := range s.limiters {
		if now.Sub(e.lastSeen) >= s.idleTTL {
			delete(s.limiters, key)
		}
	}
	s.lastSweep = now
}

// size は保持しているリミッタの数を返す。
func (s *limiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// RateLimit はユーザー単位（未認証の場合はクライアントIP単位）でリクエスト頻度を制限するミドルウェアを返す。
// ライブストリームの再接続が短時間に集中した場合の保護に使用する。
// perMinuteが0以下の場合は制限しない。
func RateLimit(perMinute, burst int) gin.HandlerFunc {
	if perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = 1
	}
	store := newLimiterStore(time.Minute/time.Duration(perMinute), burst)

	return func(c *gin.Context) {
		key := c.ClientIP()
		if userID, ok := GetUserID(c); ok {
			key = "user:" + strconv.FormatInt(userID, 10)
		}
		if !store.get(key).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "リクエストが多すぎます。しばらくしてから再試行してください",
			})
			return
		}
		c.Next()
	}
}
