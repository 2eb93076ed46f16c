package appconfig

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/knowhubhq/knowledge-exchange/upload-client/pkg/sloger"
) // .import

var logger *slog.Logger

func init() {
	type Empty struct{}
	pkgParts := strings.Split(reflect.TypeOf(Empty{}).PkgPath(), "/")
	// add package name to app logger
	logger = sloger.With("pkg", pkgParts[len(pkgParts)-1])
}

type RootResp struct {
	System     string `json:"system"`
	Product    string `json:"product"`
	App        string `json:"app"`
	ServerTime string `json:"server_time"`
} // .rootResp

type AppConfig struct {

	// App and for Logger
	LoggerDebugOn bool `env:"LOGGER_DEBUG_ON"`

	Environment string `env:"ENVIRONMENT, default=DEV"`

	// Upload behavior
	ChunkSizeBytes  int64         `env:"CHUNK_SIZE_BYTES, default=1048576"`
	MaxRetries      uint64        `env:"MAX_RETRIES, default=3"`
	RetryDelay      time.Duration `env:"RETRY_DELAY, default=1s"`
	EventMaxRetries int           `env:"EVENT_MAX_RETRY_COUNT, default=3"`

	// Destinations
	DestinationsConfigFile string `env:"DESTINATIONS_CONFIG_FILE, default=./configs/destinations.yml"`

	// Status server; leave the address empty to run without one
	StatusListenAddr string `env:"STATUS_LISTEN_ADDR"`

	// Checkpoints and resume locking
	RedisConnectionString  string `env:"REDIS_CONNECTION_STRING"`
	LocalCheckpointsFolder string `env:"LOCAL_CHECKPOINTS_FOLDER, default=./.uploads/checkpoints"`

	// Local file system event config
	LocalEventsFolder string `env:"LOCAL_EVENTS_FOLDER, default=./.uploads/events"`

	// Lifecycle event publishing
	PublisherConnection *ServiceBusConfig `env:", prefix=PUBLISHER_, noinit"`
	SNSConnection       *SNSConfig        `env:", prefix=SNS_, noinit"`

	// oauth for the platform backend
	OauthConfig *OauthConfig `env:", prefix=OAUTH_, noinit"`
} // .AppConfig

type ServiceBusConfig struct {
	ConnectionString string `env:"CONNECTION_STRING"`
	Topic            string `env:"TOPIC"`
	Queue            string `env:"QUEUE"`
}

type SNSConfig struct {
	TopicArn string `env:"TOPIC_ARN"`
	Region   string `env:"REGION"`
	Endpoint string `env:"ENDPOINT"`
}

type OauthConfig struct {
	TokenURL     string `env:"TOKEN_URL"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	Scopes       string `env:"SCOPES"`
}

func (oc *OauthConfig) Check() error {
	if oc.TokenURL == "" {
		return &MissingConfigError{ConfigName: "OauthTokenURL"}
	}
	if oc.ClientID == "" {
		return &MissingConfigError{ConfigName: "OauthClientID"}
	}
	return nil
}

func (conf *AppConfig) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jsonResp, err := json.Marshal(RootResp{
		System:     "KNOWHUB",
		Product:    "KNOWLEDGE EXCHANGE",
		App:        "upload client",
		ServerTime: time.Now().Format(time.RFC3339Nano),
	}) // .jsonResp
	if err != nil {
		errMsg := "error marshal json for root response"
		logger.Error(errMsg, "error", err.Error())
		http.Error(w, errMsg, http.StatusInternalServerError)
		return
	} // .if

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(jsonResp)
}

var LoadedConfig = &AppConfig{}

func Handler() http.Handler {
	return LoadedConfig
}

// ParseConfig loads app configuration based on environment variables and returns AppConfig struct
func ParseConfig(ctx context.Context) (AppConfig, error) {

	var ac AppConfig
	if err := envconfig.Process(ctx, &ac); err != nil {
		return AppConfig{}, err
	}

	LoadedConfig = &ac
	return ac, nil
} // .ParseConfig
