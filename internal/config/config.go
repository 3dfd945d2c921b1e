// Package config resolves the dev server settings from defaults, an optional
// .env file, environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variable of every key, as in
// APPSYNCLOCAL_LOG_LEVEL. A few keys also accept the unprefixed names used by
// existing projects; see legacyEnv.
const EnvPrefix = "APPSYNCLOCAL"

// Setting keys. A .env file uses the upper-cased key without prefix, such as
// USER_POOL_ID=...
const (
	KeyPort                = "port"
	KeyPath                = "path"
	KeyGraphQLDir          = "graphql_dir"
	KeyLambdaDir           = "lambda_dir"
	KeyResolverFilePattern = "resolver_file_pattern"
	KeyServerKind          = "server_kind"
	KeyUserPoolID          = "user_pool_id"
	KeyUserPoolClientID    = "user_pool_client_id"
	KeyCognitoRegion       = "cognito_region"
	KeyCognitoJWKSURL      = "cognito_jwks_url"
	KeyCognitoIssuer       = "cognito_issuer"
	KeyOTelEndpoint        = "otel_endpoint"
	KeyOTelService         = "otel_service"
	KeyLogLevel            = "log_level"
	KeyLogFormat           = "log_format"
	KeyIntrospection       = "introspection"
	KeyPretty              = "pretty"
	KeyTimeout             = "timeout"
	KeyCORS                = "cors"
)

// Config holds the resolved settings.
type Config struct {
	Port                int
	Path                string
	GraphQLDir          string
	LambdaDir           string
	ResolverFilePattern string
	ServerKind          string

	UserPoolID       string
	UserPoolClientID string
	CognitoRegion    string
	CognitoJWKSURL   string
	CognitoIssuer    string

	OTelEndpoint string
	OTelService  string
	LogLevel     string
	LogFormat    string

	Introspection bool
	Pretty        bool
	Timeout       time.Duration
	CORS          bool
}

var legacyEnv = map[string]string{
	KeyPort:             "PORT",
	KeyUserPoolID:       "USER_POOL_ID",
	KeyUserPoolClientID: "USER_POOL_CLIENT_ID",
}

var defaults = map[string]any{
	KeyPort:          4000,
	KeyPath:          "/graphql",
	KeyGraphQLDir:    "graphql",
	KeyServerKind:    "apollo",
	KeyOTelService:   "appsynclocal",
	KeyLogLevel:      "info",
	KeyLogFormat:     "console",
	KeyIntrospection: true,
	KeyTimeout:       30 * time.Second,
	KeyCORS:          true,
}

// flagName maps a key to its flag spelling ("graphql_dir" -> "graphql-dir").
func flagName(key string) string { return strings.ReplaceAll(key, "_", "-") }

// RegisterFlags adds one flag per setting to fs, plus --env-file.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("env-file", ".env", "dotenv file to read settings from; missing files are ignored")
	fs.Int(flagName(KeyPort), defaults[KeyPort].(int), "HTTP port")
	fs.String(flagName(KeyPath), defaults[KeyPath].(string), "GraphQL endpoint path")
	fs.String(flagName(KeyGraphQLDir), defaults[KeyGraphQLDir].(string), "directory of *.graphql schema files")
	fs.String(flagName(KeyLambdaDir), "", "handler root directory containing Query, Mutation, Subscription and Type")
	fs.String(flagName(KeyResolverFilePattern), "", "glob overriding the handler file pattern")
	fs.String(flagName(KeyServerKind), defaults[KeyServerKind].(string), "subscription style: apollo or yoga")
	fs.String(flagName(KeyUserPoolID), "", "Cognito user pool id (USER_POOL_ID)")
	fs.String(flagName(KeyUserPoolClientID), "", "Cognito app client id (USER_POOL_CLIENT_ID)")
	fs.String(flagName(KeyCognitoRegion), "", "Cognito region, derived from the user pool id when empty")
	fs.String(flagName(KeyCognitoJWKSURL), "", "override the JWKS URL")
	fs.String(flagName(KeyCognitoIssuer), "", "override the expected token issuer")
	fs.String(flagName(KeyOTelEndpoint), "", "OTLP gRPC endpoint; tracing is off when empty")
	fs.String(flagName(KeyOTelService), defaults[KeyOTelService].(string), "service name reported to OTLP")
	fs.String(flagName(KeyLogLevel), defaults[KeyLogLevel].(string), "log level")
	fs.String(flagName(KeyLogFormat), defaults[KeyLogFormat].(string), "log format: console or json")
	fs.Bool(flagName(KeyIntrospection), defaults[KeyIntrospection].(bool), "enable introspection")
	fs.Bool(flagName(KeyPretty), false, "pretty-print JSON responses")
	fs.Duration(flagName(KeyTimeout), defaults[KeyTimeout].(time.Duration), "per-request timeout")
	fs.Bool(flagName(KeyCORS), defaults[KeyCORS].(bool), "send permissive CORS headers")
}

// Load resolves the settings. flags may be nil; a flag only overrides other
// sources when it was set explicitly.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	envFile := ".env"
	if flags != nil {
		if f := flags.Lookup("env-file"); f != nil {
			envFile = f.Value.String()
		}
	}
	if envFile != "" && fileExists(envFile) {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read %s", envFile)
		}
	}

	for _, k := range keys {
		envs := []string{EnvPrefix + "_" + strings.ToUpper(k)}
		if legacy, ok := legacyEnv[k]; ok {
			envs = append(envs, legacy)
		}
		if err := v.BindEnv(append([]string{k}, envs...)...); err != nil {
			return nil, errors.Wrapf(err, "bind env %s", k)
		}
	}

	if flags != nil {
		for _, k := range keys {
			if f := flags.Lookup(flagName(k)); f != nil {
				if err := v.BindPFlag(k, f); err != nil {
					return nil, errors.Wrapf(err, "bind flag %s", f.Name)
				}
			}
		}
	}

	cfg := &Config{
		Port:                v.GetInt(KeyPort),
		Path:                v.GetString(KeyPath),
		GraphQLDir:          v.GetString(KeyGraphQLDir),
		LambdaDir:           v.GetString(KeyLambdaDir),
		ResolverFilePattern: v.GetString(KeyResolverFilePattern),
		ServerKind:          strings.ToLower(v.GetString(KeyServerKind)),
		UserPoolID:          v.GetString(KeyUserPoolID),
		UserPoolClientID:    v.GetString(KeyUserPoolClientID),
		CognitoRegion:       v.GetString(KeyCognitoRegion),
		CognitoJWKSURL:      v.GetString(KeyCognitoJWKSURL),
		CognitoIssuer:       v.GetString(KeyCognitoIssuer),
		OTelEndpoint:        v.GetString(KeyOTelEndpoint),
		OTelService:         v.GetString(KeyOTelService),
		LogLevel:            v.GetString(KeyLogLevel),
		LogFormat:           v.GetString(KeyLogFormat),
		Introspection:       v.GetBool(KeyIntrospection),
		Pretty:              v.GetBool(KeyPretty),
		Timeout:             v.GetDuration(KeyTimeout),
		CORS:                v.GetBool(KeyCORS),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var keys = []string{
	KeyPort, KeyPath, KeyGraphQLDir, KeyLambdaDir, KeyResolverFilePattern, KeyServerKind,
	KeyUserPoolID, KeyUserPoolClientID, KeyCognitoRegion, KeyCognitoJWKSURL, KeyCognitoIssuer,
	KeyOTelEndpoint, KeyOTelService, KeyLogLevel, KeyLogFormat,
	KeyIntrospection, KeyPretty, KeyTimeout, KeyCORS,
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.Errorf("port %d is out of range", c.Port)
	}
	if !strings.HasPrefix(c.Path, "/") {
		return errors.Errorf("path %q must start with /", c.Path)
	}
	switch c.ServerKind {
	case "apollo", "yoga":
	default:
		return errors.Errorf("server kind %q must be apollo or yoga", c.ServerKind)
	}
	return nil
}

// CognitoEnabled reports whether a user pool is configured.
func (c *Config) CognitoEnabled() bool {
	return c.UserPoolID != "" || c.CognitoIssuer != ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
