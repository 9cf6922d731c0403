package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// CategoryRule is one row of the ordered category table
type CategoryRule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Config holds all application-level configuration
type Config struct {
	// Affiliate API
	AppID       string
	AppSecret   string
	APIURL      string
	MinDiscount int
	MinSales    int // offers with fewer sales are dropped; 1 excludes zero-sales offers
	PageSize    int
	MaxPages    int
	SortType    int // 4 = largest discount first
	MaxRetries  int
	RetryDelay  time.Duration
	PageDelay   time.Duration
	HTTPTimeout time.Duration

	// Database
	DatabaseURL string

	// Filesystem
	DataDir    string
	PendingDir string
	SentDir    string

	// Renderer
	RenderAttempts int
	RenderBackoff  time.Duration
	Strategy       string   // "default" or "sales"
	Categories     []string // category allow-list for rendering, empty = all
	RenderQuantity int
	CategoryTable  []CategoryRule

	// Delivery
	GroupName        string
	WhatsAppURL      string
	ChromeProfileDir string
	Headless         bool
	SendInterval     time.Duration
	ShortLocate      time.Duration
	LongLocate       time.Duration
	ConfirmTimeout   time.Duration
	DeliveryOrder    string // "random" or "listing"
	RequireImage     bool

	// Chat responder
	RespondInterval   time.Duration
	RespondReplyDelay time.Duration
	RespondMaxPages   int

	// Locking
	LockBackend string // "file" or "redis"
	LockFile    string
	RedisAddr   string
	LockTTL     time.Duration

	// Events
	KafkaBrokers []string
	KafkaTopic   string

	// Control surface
	HTTPAddr      string
	CycleInterval time.Duration
	CycleBatch    int
	CollectTarget int

	LogLevel string
}

// fileConfig is the optional YAML overlay (CONFIG_FILE)
type fileConfig struct {
	Strategy      string         `yaml:"strategy"`
	Categories    []string       `yaml:"categories"`
	Quantity      int            `yaml:"quantity"`
	GroupName     string         `yaml:"group_name"`
	MinDiscount   int            `yaml:"min_discount"`
	CategoryTable []CategoryRule `yaml:"category_table"`
}

// Load reads .env (if present), then environment variables with defaults,
// then the optional YAML file named by CONFIG_FILE.
func Load() (*Config, error) {
	// A missing .env is the normal case in production.
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "data")
	cfg := &Config{
		AppID:       getEnv("SHOPEE_APP_ID", ""),
		AppSecret:   getEnv("SHOPEE_APP_SECRET", ""),
		APIURL:      getEnv("SHOPEE_API_URL", "https://open-api.affiliate.shopee.com.br/graphql"),
		MinDiscount: getEnvInt("MIN_DISCOUNT", 30),
		MinSales:    getEnvInt("MIN_SALES", 1),
		PageSize:    getEnvInt("PAGE_SIZE", 50),
		MaxPages:    getEnvInt("MAX_PAGES", 20),
		SortType:    getEnvInt("SORT_TYPE", 4),
		MaxRetries:  getEnvInt("MAX_RETRIES", 3),
		RetryDelay:  getEnvMillis("RETRY_BACKOFF_MS", 2000),
		PageDelay:   getEnvMillis("RATE_LIMIT_DELAY_MS", 1000),
		HTTPTimeout: getEnvMillis("HTTP_TIMEOUT_MS", 15000),

		DatabaseURL: getEnv("DATABASE_URL", dataDir+"/promo.db"),

		DataDir:    dataDir,
		PendingDir: getEnv("PENDING_DIR", dataDir+"/pending"),
		SentDir:    getEnv("SENT_DIR", dataDir+"/sent"),

		RenderAttempts: getEnvInt("RENDER_ATTEMPTS", 3),
		RenderBackoff:  getEnvMillis("RENDER_BACKOFF_MS", 5000),
		Strategy:       getEnv("RENDER_STRATEGY", "default"),
		Categories:     getEnvList("RENDER_CATEGORIES"),
		RenderQuantity: getEnvInt("RENDER_QUANTITY", 50),
		CategoryTable:  DefaultCategoryTable(),

		GroupName:        getEnv("GROUP_NAME", "LoJai - Promoções do dia"),
		WhatsAppURL:      getEnv("WHATSAPP_URL", "https://web.whatsapp.com"),
		ChromeProfileDir: getEnv("CHROME_PROFILE_DIR", "chrome_profile"),
		Headless:         getEnvBool("HEADLESS", false),
		SendInterval:     getEnvMillis("SEND_INTERVAL_MS", 30000),
		ShortLocate:      getEnvMillis("LOCATE_SHORT_MS", 20000),
		LongLocate:       getEnvMillis("LOCATE_LONG_MS", 60000),
		ConfirmTimeout:   getEnvMillis("CONFIRM_TIMEOUT_MS", 20000),
		DeliveryOrder:    getEnv("DELIVERY_ORDER", "random"),
		RequireImage:     getEnvBool("REQUIRE_IMAGE", false),

		RespondInterval:   getEnvMillis("RESPOND_INTERVAL_MS", 30000),
		RespondReplyDelay: getEnvMillis("RESPOND_REPLY_DELAY_MS", 5000),
		RespondMaxPages:   getEnvInt("RESPOND_MAX_PAGES", 3),

		LockBackend: getEnv("LOCK_BACKEND", "file"),
		LockFile:    getEnv("LOCK_FILE", os.TempDir()+"/promo-bot-chrome.lock"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		LockTTL:     getEnvMillis("LOCK_TTL_MS", 2*60*60*1000),

		KafkaBrokers: getEnvList("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "promo-offers"),

		HTTPAddr:      getEnv("HTTP_ADDR", ":8000"),
		CycleInterval: time.Duration(getEnvInt("CYCLE_INTERVAL_MIN", 15)) * time.Minute,
		CycleBatch:    getEnvInt("CYCLE_BATCH", 1),
		CollectTarget: getEnvInt("COLLECT_TARGET", 100),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	if fc.Strategy != "" {
		c.Strategy = fc.Strategy
	}
	if len(fc.Categories) > 0 {
		c.Categories = fc.Categories
	}
	if fc.Quantity > 0 {
		c.RenderQuantity = fc.Quantity
	}
	if fc.GroupName != "" {
		c.GroupName = fc.GroupName
	}
	if fc.MinDiscount > 0 {
		c.MinDiscount = fc.MinDiscount
	}
	if len(fc.CategoryTable) > 0 {
		c.CategoryTable = fc.CategoryTable
	}
	return nil
}

// ValidateAPI checks the settings required to talk to the affiliate API
func (c *Config) ValidateAPI() error {
	if c.AppID == "" || c.AppSecret == "" {
		return fmt.Errorf("SHOPEE_APP_ID and SHOPEE_APP_SECRET must be set")
	}
	return nil
}

// DefaultCategoryTable is the ordered keyword table; the first match wins
func DefaultCategoryTable() []CategoryRule {
	return []CategoryRule{
		{Name: "Pet", Keywords: []string{"coleira", "pet", "cachorro", "gato", "ração", "arranhador", "comedouro"}},
		{Name: "Casa e Decoração", Keywords: []string{"cozinha", "panela", "decoração", "tapete", "cortina", "luminária", "organizador", "toalha", "lençol"}},
		{Name: "Moda Feminina", Keywords: []string{"vestido", "saia", "blusa feminina", "sutiã", "calcinha", "biquíni", "bolsa feminina", "cropped"}},
		{Name: "Moda Masculina", Keywords: []string{"masculina", "masculino", "bermuda", "cueca", "camisa polo"}},
		{Name: "Eletrônicos", Keywords: []string{"fone", "bluetooth", "carregador", "cabo usb", "smartwatch", "celular", "caixa de som", "mouse", "teclado"}},
		{Name: "Beleza", Keywords: []string{"maquiagem", "batom", "perfume", "shampoo", "creme", "skincare", "sérum", "esmalte"}},
		{Name: "Esporte", Keywords: []string{"academia", "fitness", "bicicleta", "garrafa térmica", "yoga", "corrida"}},
		{Name: "Infantil", Keywords: []string{"infantil", "bebê", "brinquedo", "criança"}},
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvMillis(key string, defaultMs int) time.Duration {
	return time.Duration(getEnvInt(key, defaultMs)) * time.Millisecond
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
