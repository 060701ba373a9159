// Package config carga la configuración del servicio: defaults, luego el
// YAML, luego overrides por variables de entorno y por último Validate.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/hellologin/internal/validation"
)

// Settings son los valores editables por el operador (persistidos por
// SettingsStore). Las claves yaml son también los nombres usados para
// marcar overrides por entorno.
type Settings struct {
	ClientID           string `yaml:"client_id"`
	Scope              string `yaml:"scope"`
	ProviderHint       string `yaml:"provider_hint"`
	AcrValues          string `yaml:"acr_values"`
	EndpointLogin      string `yaml:"endpoint_login"`
	EndpointToken      string `yaml:"endpoint_token"`
	EndpointQuickstart string `yaml:"endpoint_quickstart"`
	EndpointInvite     string `yaml:"endpoint_invite"`
	EndpointIntrospect string `yaml:"endpoint_introspect"`
	// Segundos.
	StateTimeLimit     int    `yaml:"state_time_limit"`
	HTTPRequestTimeout int    `yaml:"http_request_timeout"`
	DisplayNameFormat  string `yaml:"displayname_format"`
	LinkExistingUsers  bool   `yaml:"link_existing_users"`
	CreateIfNotExists  bool   `yaml:"create_if_does_not_exist"`
	RedirectUserBack   bool   `yaml:"redirect_user_back"`
}

// MinStateTimeLimit es el mínimo aceptado para state_time_limit.
const MinStateTimeLimit = 60

// StateTTL retorna state_time_limit como duración.
func (s Settings) StateTTL() time.Duration {
	return time.Duration(s.StateTimeLimit) * time.Second
}

// RequestTimeout retorna http_request_timeout como duración.
func (s Settings) RequestTimeout() time.Duration {
	return time.Duration(s.HTTPRequestTimeout) * time.Second
}

func (s *Settings) normalize() {
	if s.StateTimeLimit <= 0 {
		s.StateTimeLimit = 600
	}
	if s.StateTimeLimit < MinStateTimeLimit {
		s.StateTimeLimit = MinStateTimeLimit
	}
	if s.HTTPRequestTimeout <= 0 {
		s.HTTPRequestTimeout = 5
	}
}

// DefaultSettings retorna los valores por defecto del Provider Hellō.
func DefaultSettings() Settings {
	return Settings{
		EndpointLogin:      "https://wallet.hello.coop/authorize",
		EndpointToken:      "https://wallet.hello.coop/oauth/token",
		EndpointQuickstart: "https://quickstart.hello.coop/",
		EndpointInvite:     "https://wallet.hello.coop/invite",
		EndpointIntrospect: "https://wallet.hello.coop/oauth/introspect",
		StateTimeLimit:     600,
		HTTPRequestTimeout: 5,
		DisplayNameFormat:  "{name}",
		LinkExistingUsers:  true,
		CreateIfNotExists:  true,
		RedirectUserBack:   true,
	}
}

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
		// Origen público del sitio, p.ej. https://example.com
		PublicURL       string `yaml:"public_url"`
		ReadTimeout     string `yaml:"read_timeout"`
		WriteTimeout    string `yaml:"write_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Pages struct {
		Home     string `yaml:"home"`
		Login    string `yaml:"login"`
		Profile  string `yaml:"profile"`
		Settings string `yaml:"settings"`
	} `yaml:"pages"`

	Hello Settings `yaml:"hello"`

	// Archivo donde SettingsStore persiste Settings.
	SettingsFile string `yaml:"settings_file"`

	Cache struct {
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
		// Intervalo del barrido de states vencidos.
		GCInterval string `yaml:"gc_interval"`
	} `yaml:"cache"`

	Users struct {
		// memory | postgres
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxOpenConns    int    `yaml:"max_open_conns"`
			MaxIdleConns    int    `yaml:"max_idle_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
		Roles map[string][]string `yaml:"roles"`
	} `yaml:"users"`

	Federation struct {
		// memory | redis | postgres
		Driver string `yaml:"driver"`
	} `yaml:"federation"`

	Session struct {
		Secret     string `yaml:"secret"`
		CookieName string `yaml:"cookie_name"`
		Domain     string `yaml:"domain"`
		SameSite   string `yaml:"samesite"`
		Secure     bool   `yaml:"secure"`
		TTL        string `yaml:"ttl"`
	} `yaml:"session"`

	Rate struct {
		Enabled     bool   `yaml:"enabled"`
		Window      string `yaml:"window"`
		MaxRequests int    `yaml:"max_requests"`
	} `yaml:"rate"`

	Log struct {
		Level string `yaml:"level"`
		// Máximo de entradas (message, category) retenidas.
		Limit int `yaml:"limit"`
	} `yaml:"log"`

	Security struct {
		VerifySignatures bool   `yaml:"verify_signatures"`
		JWKSURL          string `yaml:"jwks_url"`
	} `yaml:"security"`

	helloBase  Settings
	overridden map[string]bool
}

// Default retorna la configuración con todos los defaults aplicados.
func Default() *Config {
	c := &Config{Hello: DefaultSettings()}
	c.App.Env = "dev"
	c.Server.Addr = ":8080"
	c.Server.PublicURL = "http://localhost:8080"
	c.Server.ReadTimeout = "10s"
	c.Server.WriteTimeout = "15s"
	c.Server.ShutdownTimeout = "10s"
	c.Pages.Home = "/"
	c.Pages.Login = "/login"
	c.Pages.Profile = "/profile"
	c.Pages.Settings = "/settings"
	c.SettingsFile = "data/settings.yaml"
	c.Cache.Kind = "memory"
	c.Cache.Redis.Addr = "localhost:6379"
	c.Cache.Redis.Prefix = "hellologin:"
	c.Cache.GCInterval = "10m"
	c.Users.Driver = "memory"
	c.Federation.Driver = "memory"
	c.Session.CookieName = "hello_login_session"
	c.Session.SameSite = "Lax"
	c.Session.TTL = "48h"
	c.Rate.Enabled = true
	c.Rate.Window = "1m"
	c.Rate.MaxRequests = 60
	c.Log.Level = "info"
	c.Log.Limit = 1000
	return c
}

// Load lee path (si no existe se usan defaults), aplica overrides por env y
// valida.
func Load(path string) (*Config, error) {
	c := Default()

	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	c.helloBase = c.Hello
	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// HelloBase retorna Settings tal como vinieron del YAML, sin overrides.
func (c *Config) HelloBase() Settings { return c.helloBase }

// Overridden reporta si la clave de Settings vino de una variable de entorno.
func (c *Config) Overridden(key string) bool { return c.overridden[key] }

// Duration parsea un campo de duración ya validado.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// Validate verifica y normaliza los valores críticos.
func (c *Config) Validate() error {
	c.Hello.normalize()
	if c.Log.Limit <= 0 {
		c.Log.Limit = 1000
	}

	for name, v := range map[string]string{
		"server.read_timeout":              c.Server.ReadTimeout,
		"server.write_timeout":             c.Server.WriteTimeout,
		"server.shutdown_timeout":          c.Server.ShutdownTimeout,
		"cache.gc_interval":                c.Cache.GCInterval,
		"session.ttl":                      c.Session.TTL,
		"rate.window":                      c.Rate.Window,
		"users.postgres.conn_max_lifetime": c.Users.Postgres.ConnMaxLifetime,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}

	switch c.Cache.Kind {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown cache.kind %q", c.Cache.Kind)
	}
	switch c.Users.Driver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Users.DSN) == "" {
			return errors.New("config: users.dsn required for postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown users.driver %q", c.Users.Driver)
	}
	switch c.Federation.Driver {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("config: unknown federation.driver %q", c.Federation.Driver)
	}
	if c.Federation.Driver == "postgres" && strings.TrimSpace(c.Users.DSN) == "" {
		return errors.New("config: users.dsn required for postgres federation store")
	}
	if c.Security.VerifySignatures && strings.TrimSpace(c.Security.JWKSURL) == "" {
		return errors.New("config: security.jwks_url required when verify_signatures is on")
	}
	if bad := validation.InvalidScopes(c.Hello.Scope); len(bad) > 0 {
		return fmt.Errorf("config: invalid scope %q", bad[0])
	}
	if strings.EqualFold(c.App.Env, "prod") && len(c.Session.Secret) < 32 {
		return errors.New("config: session.secret must be at least 32 bytes in prod")
	}
	return nil
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

// applyHelloEnv pisa Settings con HELLO_LOGIN_* y retorna las claves
// pisadas.
func applyHelloEnv(s *Settings) []string {
	var keys []string
	str := func(env, key string, dst *string) {
		if v, ok := getEnvStr(env); ok {
			*dst = v
			keys = append(keys, key)
		}
	}
	boolean := func(env, key string, dst *bool) {
		if v, ok := getEnvBool(env); ok {
			*dst = v
			keys = append(keys, key)
		}
	}

	str("HELLO_LOGIN_CLIENT_ID", "client_id", &s.ClientID)
	str("HELLO_LOGIN_ENDPOINT_LOGIN", "endpoint_login", &s.EndpointLogin)
	str("HELLO_LOGIN_ENDPOINT_TOKEN", "endpoint_token", &s.EndpointToken)
	str("HELLO_LOGIN_ENDPOINT_QUICKSTART", "endpoint_quickstart", &s.EndpointQuickstart)
	str("HELLO_LOGIN_ENDPOINT_INVITE", "endpoint_invite", &s.EndpointInvite)
	str("HELLO_LOGIN_ENDPOINT_INTROSPECT", "endpoint_introspect", &s.EndpointIntrospect)
	str("HELLO_LOGIN_SCOPE", "scope", &s.Scope)
	boolean("HELLO_LOGIN_CREATE_IF_DOES_NOT_EXIST", "create_if_does_not_exist", &s.CreateIfNotExists)
	boolean("HELLO_LOGIN_LINK_EXISTING_USERS", "link_existing_users", &s.LinkExistingUsers)
	boolean("HELLO_LOGIN_REDIRECT_USER_BACK", "redirect_user_back", &s.RedirectUserBack)
	return keys
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	c.overridden = map[string]bool{}
	for _, k := range applyHelloEnv(&c.Hello) {
		c.overridden[k] = true
	}

	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("SERVER_PUBLIC_URL"); ok {
		c.Server.PublicURL = strings.TrimRight(v, "/")
	}
	if v, ok := getEnvStr("SETTINGS_FILE"); ok {
		c.SettingsFile = v
	}

	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}

	if v, ok := getEnvStr("USERS_DRIVER"); ok {
		c.Users.Driver = v
	}
	if v, ok := getEnvStr("USERS_DSN"); ok {
		c.Users.DSN = v
	}
	if v, ok := getEnvStr("FEDERATION_DRIVER"); ok {
		c.Federation.Driver = v
	}

	if v, ok := getEnvStr("SESSION_SECRET"); ok {
		c.Session.Secret = v
	}
	if v, ok := getEnvBool("SESSION_SECURE"); ok {
		c.Session.Secure = v
	}

	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvInt("RATE_MAX_REQUESTS"); ok {
		c.Rate.MaxRequests = v
	}
	if v, ok := getEnvStr("RATE_WINDOW"); ok {
		c.Rate.Window = v
	}

	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := getEnvInt("LOG_LIMIT"); ok {
		c.Log.Limit = v
	}

	if v, ok := getEnvBool("SECURITY_VERIFY_SIGNATURES"); ok {
		c.Security.VerifySignatures = v
	}
	if v, ok := getEnvStr("SECURITY_JWKS_URL"); ok {
		c.Security.JWKSURL = v
	}
}
