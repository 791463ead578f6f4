// Copyright 2021-2024, Intech ID, Inc.
// For license information, see https://github.com/intech-id/collexi-rollup/blob/master/LICENSE

package confighelpers

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/intech-id/collexi-rollup/wallet"
)

type testConfig struct {
	Conf   ConfConfig    `koanf:"conf"`
	Wallet wallet.Config `koanf:"wallet"`
}

func parseArgs(t *testing.T, args []string) *testConfig {
	t.Helper()
	f := flag.NewFlagSet("test", flag.ContinueOnError)
	ConfConfigAddOptions("conf", f)
	wallet.ConfigAddOptions("wallet", f)

	k, err := BeginCommonParse(f, args)
	require.NoError(t, err)
	require.NoError(t, ApplyOverrides(f, k))

	var config testConfig
	require.NoError(t, EndCommonParse(k, &config))
	return &config
}

func TestParseFlags(t *testing.T) {
	config := parseArgs(t, []string{
		"--wallet.provider.url", "wss://operator.example/ws",
		"--wallet.fee-tolerance", "0.01",
	})
	require.Equal(t, "wss://operator.example/ws", config.Wallet.Provider.URL)
	require.Equal(t, 0.01, config.Wallet.FeeTolerance)
	// untouched options keep their defaults
	require.Equal(t, 3*time.Second, config.Wallet.Provider.PollInterval)
	require.Equal(t, 3*time.Second, config.Wallet.MinePoll)
}

func TestRejectsPositionalArguments(t *testing.T) {
	f := flag.NewFlagSet("test", flag.ContinueOnError)
	ConfConfigAddOptions("conf", f)
	_, err := BeginCommonParse(f, []string{"stray"})
	require.Error(t, err)
}

func TestConfigFileAndPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"wallet": {
			"base-chain-url": "http://chain.example:8545",
			"fee-tolerance": 0.02
		}
	}`), 0o600))

	config := parseArgs(t, []string{
		"--conf.file", path,
		"--wallet.fee-tolerance", "0.01",
	})
	// file fills what flags left alone
	require.Equal(t, "http://chain.example:8545", config.Wallet.BaseChainURL)
	// an explicitly set flag beats the file
	require.Equal(t, 0.01, config.Wallet.FeeTolerance)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("COLLEXI_WALLET_BASE__CHAIN__URL", "http://env.example:8545")
	config := parseArgs(t, []string{"--conf.env-prefix", "COLLEXI"})
	require.Equal(t, "http://env.example:8545", config.Wallet.BaseChainURL)
}

func TestInlineConfigString(t *testing.T) {
	config := parseArgs(t, []string{
		"--conf.string", `{"wallet":{"provider":{"url":"http://inline.example"}}}`,
	})
	require.Equal(t, "http://inline.example", config.Wallet.Provider.URL)
}
