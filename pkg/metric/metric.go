package metric

import (
	"sync"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/Meesho/BharatMLStack/node-lease-manager/pkg/config"
	"github.com/rs/zerolog/log"
)

var (
	// it is safe to use one client from multiple goroutines simultaneously
	statsDClient statsd.ClientInterface = &statsd.NoOpClient{}
	samplingRate                        = 1.0
	appName                             = ""
	initialized                         = false
	once        sync.Once
)

// Init builds the statsd client from TELEGRAF_ADDRESS. Until Init runs every
// call is a no-op, which is what tests rely on.
func Init() {
	if initialized {
		log.Debug().Msgf("Metrics already initialized!")
		return
	}
	once.Do(func() {
		env := config.Instance()
		samplingRate = env.AppMetricSamplingRate
		appName = env.AppName
		globalTags := getGlobalTags(env)

		client, err := statsd.New(
			env.TelegrafAddress,
			statsd.WithTags(globalTags),
		)
		if err != nil {
			log.Panic().Err(err).Msg("StatsD client initialization failed")
		}
		statsDClient = client
		log.Info().Msgf("Metrics client initialized with telegraf address - %s, global tags - %v, and "+
			"sampling rate - %f", env.TelegrafAddress, globalTags, samplingRate)
		initialized = true
	})
}

// SetClient swaps the statsd client, e.g. for a mock in tests.
func SetClient(client statsd.ClientInterface) {
	statsDClient = client
}

func getGlobalTags(env config.Env) []string {
	if len(env.AppEnv) == 0 {
		log.Warn().Msg("APP_ENV is not set")
	}
	if len(env.AppName) == 0 {
		log.Warn().Msg("APP_NAME is not set")
	}
	return []string{
		TagAsString(TagEnv, env.AppEnv),
		TagAsString(TagService, env.AppName),
	}
}

// Timing sends timing information
func Timing(name string, value time.Duration, tags []string) {
	tags = append(tags, TagAsString(TagService, appName))
	err := statsDClient.Timing(name, value, tags, samplingRate)
	if err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Error occurred while doing statsd timing")
	}
}

// Count Increases metric counter by value
func Count(name string, value int64, tags []string) {
	tags = append(tags, TagAsString(TagService, appName))
	err := statsDClient.Count(name, value, tags, samplingRate)
	if err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Error occurred while doing statsd count")
	}
}

// Incr Increases metric counter by 1
func Incr(name string, tags []string) {
	Count(name, 1, tags)
}

func Gauge(name string, value float64, tags []string) {
	tags = append(tags, TagAsString(TagService, appName))
	err := statsDClient.Gauge(name, value, tags, samplingRate)
	if err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Error occurred while doing statsd gauge")
	}
}
