// Copyright 2021-2024, Intech ID, Inc.
// For license information, see https://github.com/intech-id/collexi-rollup/blob/master/LICENSE

// Package confighelpers assembles configuration from command line flags,
// environment variables and an optional json file, in that order of
// precedence, and unmarshals the merged tree into koanf-tagged structs.
package confighelpers

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf"
	koanfjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
)

// ConfConfig are the meta options every parser carries: where extra config
// comes from and whether to dump the resolved tree.
type ConfConfig struct {
	File      string `koanf:"file"`
	String    string `koanf:"string"`
	EnvPrefix string `koanf:"env-prefix"`
	Dump      bool   `koanf:"dump"`
}

var ConfConfigDefault = ConfConfig{}

func ConfConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".file", ConfConfigDefault.File, "path to a json configuration file")
	f.String(prefix+".string", ConfConfigDefault.String, "configuration as a json string")
	f.String(prefix+".env-prefix", ConfConfigDefault.EnvPrefix, "environment variable prefix (PREFIX_SECTION_OPTION maps to section.option)")
	f.Bool(prefix+".dump", ConfConfigDefault.Dump, "print the resolved configuration as json and exit")
}

// BeginCommonParse parses args against the flag set and loads them into a
// fresh koanf tree. Positional arguments are rejected.
func BeginCommonParse(f *flag.FlagSet, args []string) (*koanf.Koanf, error) {
	if err := f.Parse(args); err != nil {
		return nil, err
	}
	if f.NArg() != 0 {
		return nil, errors.Errorf("unexpected positional arguments: %v", f.Args())
	}
	k := koanf.New(".")
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, errors.Wrap(err, "loading command line flags")
	}
	return k, nil
}

// ApplyOverrides layers the secondary sources over the flag values: first
// environment variables under conf.env-prefix, then the conf.file json file,
// then the conf.string inline json, then the flags again so explicit flags
// always win.
func ApplyOverrides(f *flag.FlagSet, k *koanf.Koanf) error {
	if err := loadEnvironmentVariables(k); err != nil {
		return err
	}
	if path := k.String("conf.file"); path != "" {
		if err := k.Load(file.Provider(path), koanfjson.Parser()); err != nil {
			return errors.Wrapf(err, "loading config file %s", path)
		}
	}
	if inline := k.String("conf.string"); inline != "" {
		if err := k.Load(rawbytes.Provider([]byte(inline)), koanfjson.Parser()); err != nil {
			return errors.Wrap(err, "loading inline config")
		}
	}
	// only flags the user actually set go back on top, so defaults do not
	// shadow file or env settings
	explicit := map[string]interface{}{}
	f.Visit(func(fl *flag.Flag) {
		explicit[fl.Name] = fl.Value.String()
	})
	if len(explicit) > 0 {
		if err := k.Load(confmap.Provider(explicit, "."), nil); err != nil {
			return errors.Wrap(err, "re-applying command line flags")
		}
	}
	return nil
}

func loadEnvironmentVariables(k *koanf.Koanf) error {
	prefix := k.String("conf.env-prefix")
	if prefix == "" {
		return nil
	}
	err := k.Load(env.Provider(prefix+"_", ".", func(name string) string {
		name = strings.ToLower(strings.TrimPrefix(name, prefix+"_"))
		// PREFIX_WALLET_FEE__TOLERANCE -> wallet.fee-tolerance
		name = strings.ReplaceAll(name, "__", "-")
		return strings.ReplaceAll(name, "_", ".")
	}), nil)
	return errors.Wrap(err, "loading environment variables")
}

// EndCommonParse unmarshals the merged tree into config. Unknown keys are
// errors so typos surface instead of silently applying defaults.
func EndCommonParse(k *koanf.Koanf, config interface{}) error {
	decoderConfig := mapstructure.DecoderConfig{
		ErrorUnused: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
		),
		Metadata:         nil,
		Result:           config,
		WeaklyTypedInput: true,
	}
	err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{
		Tag:           "koanf",
		DecoderConfig: &decoderConfig,
	})
	if err != nil {
		return errors.Wrap(err, "unmarshalling configuration")
	}
	return nil
}

// DumpConfig prints the resolved tree as json, with the named fields
// overridden first (secrets blanked, say).
func DumpConfig(k *koanf.Koanf, overrideFields map[string]interface{}) error {
	tree := k.All()
	for key, value := range overrideFields {
		tree[key] = value
	}
	out, err := json.MarshalIndent(unflatten(tree), "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshalling config dump")
	}
	fmt.Println(string(out))
	return nil
}

func unflatten(flat map[string]interface{}) map[string]interface{} {
	nested := make(map[string]interface{})
	for key, value := range flat {
		parts := strings.Split(key, ".")
		node := nested
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]interface{})
			if !ok {
				child = make(map[string]interface{})
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}
	return nested
}

// PrintErrorAndExit reports a parse failure, shows usage for plain flag
// errors, and exits non-zero.
func PrintErrorAndExit(err error, usage func(string)) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	if usage != nil {
		usage(os.Args[0])
	}
	os.Exit(1)
}
