package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/mcmw/proxy/transport"
	"github.com/ValentinKolb/mcmw/proxy/transport/tcp"
	"github.com/ValentinKolb/mcmw/proxy/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of environment variables read by viper
	EnvPrefix = "mcmw"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var lines []string
	var line strings.Builder

	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > Wrap {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteString(" ")
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

// InitConfig loads .env files, the environment and the config file named by
// the --config flag, if any. Values are looked up as flag > env > file.
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// ReadConfigFile reads path into viper. An empty path is ignored.
func ReadConfigFile(path string) error {
	if path == "" {
		return nil
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// SplitList splits a comma separated list and drops empty entries
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetServerConnector creates the client listener side of a transport (tcp, unix)
func GetServerConnector(name string) (transport.IServerConnector, error) {
	switch name {
	case "tcp":
		return tcp.NewTCPServerConnector(), nil
	case "unix":
		return unix.NewUnixServerConnector(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", name)
	}
}

// GetClientConnector creates the backend dialer side of a transport (tcp, unix)
func GetClientConnector(name string, timeout time.Duration) (transport.IClientConnector, error) {
	switch name {
	case "tcp":
		return tcp.NewTCPClientConnector(timeout), nil
	case "unix":
		return unix.NewUnixClientConnector(timeout), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", name)
	}
}

// --------------------------------------------------------------------------
// Client flags
// --------------------------------------------------------------------------

// ClientConfig is the connection setting of the mc commands
type ClientConfig struct {
	Endpoint string
	Timeout  time.Duration
}

func (c ClientConfig) String() string {
	return fmt.Sprintf("  %-22s: %s\n  %-22s: %s\n", "Endpoint", c.Endpoint, "Timeout", c.Timeout)
}

// SetupClientFlags adds the connection flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	key := "endpoint"
	cmd.PersistentFlags().String(key, "127.0.0.1:11212", WrapString("The address of the proxy or of any memcached server. Paths starting with / are Unix sockets"))

	key = "timeout"
	cmd.PersistentFlags().Duration(key, 5*time.Second, WrapString("The timeout of connecting and of every command"))
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig() ClientConfig {
	return ClientConfig{
		Endpoint: viper.GetString("endpoint"),
		Timeout:  viper.GetDuration("timeout"),
	}
}
