package signalr

import (
	"net/http"
	"os"
	"time"
)

// Feed category names used with WithWatchdog.
const (
	FeedNameMarkets = "markets"
	FeedNameTickers = "tickers"
	FeedNameSummary = "summary"
)

// HubMethodNames lets callers override the hub method names this client
// invokes, in case a deployment renames them.
type HubMethodNames struct {
	SubscribeMarket      string
	QueryMarketState     string
	SubscribeTicker      string
	SubscribeSummary     string
	SubscribeSummaryLite string
}

// DefaultHubMethodNames matches the hub this client was built against.
func DefaultHubMethodNames() HubMethodNames {
	return HubMethodNames{
		SubscribeMarket:      "SubscribeToExchangeDeltas",
		QueryMarketState:     "QueryExchangeState",
		SubscribeTicker:      "SubscribeToExchangeDeltasLite",
		SubscribeSummary:     "SubscribeToSummaryDeltas",
		SubscribeSummaryLite: "SubscribeToSummaryLiteDeltas",
	}
}

// Option configures a Facade at construction.
type Option func(*facadeOptions)

type facadeOptions struct {
	baseHTTPS string
	baseWSS   string
	solver    ChallengeSolver

	handshake      HandshakeConfig
	hubMethods     HubMethodNames
	payloadDecoder PayloadDecoder

	httpClient *http.Client
	logger     Logger

	listenerBufferSize int

	reconnectDelay time.Duration
	reconnectLimit int // 0 = unlimited

	watchdogs map[string]WatchdogConfig
}

// defaultFacadeOptions are the default options for a Facade.
// Don't change this in a backward incompatible way!
func defaultFacadeOptions() *facadeOptions {
	baseHTTPS := "https://socket-v3.bittrex.com/signalr"
	if s := os.Getenv("BITTREX_SIGNALR_HTTPS_URL"); s != "" {
		baseHTTPS = s
	}
	baseWSS := "wss://socket-v3.bittrex.com/signalr"
	if s := os.Getenv("BITTREX_SIGNALR_WSS_URL"); s != "" {
		baseWSS = s
	}

	return &facadeOptions{
		baseHTTPS:          baseHTTPS,
		baseWSS:            baseWSS,
		solver:             StaticCredentials{Cookie: os.Getenv("BITTREX_SIGNALR_COOKIE"), UserAgent: os.Getenv("BITTREX_SIGNALR_USER_AGENT")},
		handshake:          DefaultHandshakeConfig(),
		hubMethods:         DefaultHubMethodNames(),
		payloadDecoder:     DefaultPayloadDecoder(),
		httpClient:         &http.Client{Timeout: 60 * time.Second},
		logger:             DefaultLogger(),
		listenerBufferSize: 256,
		reconnectDelay:     10 * time.Second,
		reconnectLimit:     0,
		watchdogs:          map[string]WatchdogConfig{},
	}
}

// WithBaseURLs sets the hub's HTTPS (negotiate/start/abort) and WSS
// (connect) origins.
func WithBaseURLs(https, wss string) Option {
	return func(o *facadeOptions) { o.baseHTTPS = https; o.baseWSS = wss }
}

// WithChallengeSolver sets the collaborator that produces Credentials.
func WithChallengeSolver(solver ChallengeSolver) Option {
	return func(o *facadeOptions) { o.solver = solver }
}

// WithStaticCredentials is a convenience wrapper for a pre-obtained
// (cookie, user-agent) pair.
func WithStaticCredentials(cookie, userAgent string) Option {
	return WithChallengeSolver(StaticCredentials{Cookie: cookie, UserAgent: userAgent})
}

// WithPingTimeout sets the application-level heartbeat interval. Zero
// disables the heartbeat supervisor entirely.
func WithPingTimeout(d time.Duration) Option {
	return func(o *facadeOptions) { o.handshake.PingTimeout = d }
}

// WithUserAgent overrides the challenge solver's user-agent when
// non-empty.
func WithUserAgent(ua string) Option {
	return func(o *facadeOptions) { o.handshake.UserAgent = ua }
}

// WithRetryCounts sets the per-phase handshake retry budgets.
func WithRetryCounts(negotiate, connect, start int) Option {
	return func(o *facadeOptions) {
		o.handshake.NegotiateRetries = negotiate
		o.handshake.ConnectRetries = connect
		o.handshake.StartRetries = start
	}
}

// WithRetryDelay sets the fixed delay between handshake retry attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(o *facadeOptions) { o.handshake.RetryDelay = d }
}

// WithIgnoreStartStep skips the start phase entirely, for hubs that
// don't require it.
func WithIgnoreStartStep(ignore bool) Option {
	return func(o *facadeOptions) { o.handshake.IgnoreStartStep = ignore }
}

// WithHubMethodNames overrides the hub method names this client invokes.
func WithHubMethodNames(names HubMethodNames) Option {
	return func(o *facadeOptions) { o.hubMethods = names }
}

// WithPayloadDecoder overrides how hub pushes are decoded into domain
// events.
func WithPayloadDecoder(d PayloadDecoder) Option {
	return func(o *facadeOptions) { o.payloadDecoder = d }
}

// WithHTTPClient overrides the HTTP client used for negotiate/start/abort.
func WithHTTPClient(c *http.Client) Option {
	return func(o *facadeOptions) { o.httpClient = c }
}

// WithLogger overrides the default zerolog-backed Logger.
func WithLogger(l Logger) Option {
	return func(o *facadeOptions) { o.logger = l }
}

// WithListenerBufferSize sets the per-Listener mailbox capacity.
func WithListenerBufferSize(n int) Option {
	return func(o *facadeOptions) { o.listenerBufferSize = n }
}

// WithReconnectPolicy sets the outer reconnect budget (0 = unlimited
// consecutive failures) and the fixed delay between reconnect attempts.
func WithReconnectPolicy(limit int, delay time.Duration) Option {
	return func(o *facadeOptions) { o.reconnectLimit = limit; o.reconnectDelay = delay }
}

// WithWatchdog configures staleness detection for one feed category
// (FeedNameMarkets, FeedNameTickers, or FeedNameSummary).
func WithWatchdog(feed string, cfg WatchdogConfig) Option {
	return func(o *facadeOptions) { o.watchdogs[feed] = cfg }
}
