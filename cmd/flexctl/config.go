package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type configSource string

const (
	sourceDefault configSource = "default"
	sourceFile    configSource = "file"
	sourceEnv     configSource = "env"
	sourceFlag    configSource = "flag"
)

const (
	defaultBaseURL = "http://127.0.0.1:8080/"
	defaultTimeout = 30 * time.Second
)

// yamlConfig loads YAML into a map and reads values via typed getters.
// It supports hierarchical keys like "client.base_url".
type yamlConfig struct {
	data map[string]interface{}
}

func readYAMLConfigFile(path string) (*yamlConfig, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	b, err := io.ReadAll(fd)
	if err != nil {
		return nil, err
	}

	data := make(map[string]interface{})
	if err := yaml.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &yamlConfig{data: data}, nil
}

func (yc *yamlConfig) get(path string) (interface{}, bool) {
	if yc == nil || path == "" {
		return nil, false
	}

	var cur interface{} = yc.data
	for _, p := range strings.Split(path, ".") {
		switch m := cur.(type) {
		case map[string]interface{}:
			v, ok := m[p]
			if !ok {
				return nil, false
			}
			cur = v
		case map[interface{}]interface{}:
			v, ok := m[p]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

func (yc *yamlConfig) getString(path string) (string, bool, error) {
	v, ok := yc.get(path)
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", true, fmt.Errorf("yaml %s must be string", path)
	}
	if s == "" {
		return "", true, fmt.Errorf("yaml %s is empty", path)
	}
	return s, true, nil
}

func (yc *yamlConfig) getDuration(path string) (time.Duration, bool, error) {
	s, ok, err := yc.getString(path)
	if err != nil || !ok {
		return 0, ok, err
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, true, fmt.Errorf("yaml %s invalid duration: %w", path, err)
	}
	return d, true, nil
}

func (yc *yamlConfig) getBool(path string) (bool, bool, error) {
	v, ok := yc.get(path)
	if !ok {
		return false, false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, true, fmt.Errorf("yaml %s must be bool", path)
	}
	return b, true, nil
}

// headerFlags collects repeated -H "Key: Value" flags.
type headerFlags []string

func (h *headerFlags) String() string {
	return strings.Join(*h, ", ")
}

func (h *headerFlags) Set(v string) error {
	if k, _, ok := strings.Cut(v, ":"); !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("header %q must look like Key: Value", v)
	}
	*h = append(*h, v)
	return nil
}

type clientConfig struct {
	baseURL string
	timeout time.Duration
	tranID  bool

	baseURLSource configSource
	timeoutSource configSource
	tranIDSource  configSource

	dotenvPath   string
	dotenvLoaded bool

	configPath   string
	configLoaded bool

	// Per-invocation flags.
	process string
	params  string
	method  string
	headers headerFlags
	unwrap  bool
	batch   string
}

func loadConfig(args []string) (clientConfig, error) {
	resolved, err := resolveYAML(args)
	if err != nil {
		return clientConfig{}, err
	}

	dotenvPath, dotenvLoaded := loadDotenv(".env")

	fileVals, err := readFileValues(resolved.yc)
	if err != nil {
		return clientConfig{}, err
	}

	envVals, err := readEnvValues()
	if err != nil {
		return clientConfig{}, err
	}

	baseURLDefault, timeoutDefault, tranIDDefault := computeDefaults(fileVals, envVals)

	cfg := clientConfig{}
	fs := flag.NewFlagSet(filepath.Base(os.Args[0]), flag.ContinueOnError)
	config := fs.String("config", resolved.path, "path to YAML config file")
	fs.StringVar(&cfg.baseURL, "base-url", baseURLDefault, "backend base url")
	fs.DurationVar(&cfg.timeout, "timeout", timeoutDefault, "request timeout (0 to disable)")
	fs.BoolVar(&cfg.tranID, "tran-id", tranIDDefault, "fill REQ_HEAD with the process name and a generated TRAN_ID")
	fs.StringVar(&cfg.process, "process", "", "process name, e.g. queryTodoListProcess")
	fs.StringVar(&cfg.params, "params", "", "REQ_BODY as JSON")
	fs.StringVar(&cfg.method, "method", "", "override the HTTP method (POST by default)")
	fs.Var(&cfg.headers, "H", "extra header \"Key: Value\" (repeatable)")
	fs.BoolVar(&cfg.unwrap, "unwrap", false, "treat the response as RESP_HEAD/RESP_BODY and print only the body")
	fs.StringVar(&cfg.batch, "batch", "", "YAML file of calls to run concurrently")
	if err := fs.Parse(args); err != nil {
		return clientConfig{}, err
	}

	flagSetFlags := visitedFlags(fs)

	finalConfigPath := *config
	if abs, err := filepath.Abs(finalConfigPath); err == nil {
		finalConfigPath = abs
	}

	cfg.baseURLSource = pickSource(isFlagSet("base-url", flagSetFlags), envVals.baseURLOK, fileVals.baseURLOK)
	cfg.timeoutSource = pickSource(isFlagSet("timeout", flagSetFlags), envVals.timeoutOK, fileVals.timeoutOK)
	cfg.tranIDSource = pickSource(isFlagSet("tran-id", flagSetFlags), envVals.tranIDOK, fileVals.tranIDOK)
	cfg.dotenvPath = dotenvPath
	cfg.dotenvLoaded = dotenvLoaded
	cfg.configPath = finalConfigPath
	cfg.configLoaded = resolved.loaded
	return cfg, nil
}

func isFlagSet(name string, set map[string]bool) bool {
	return set != nil && set[name]
}

type resolvedYAML struct {
	yc     *yamlConfig
	path   string
	loaded bool
}

func resolveYAML(args []string) (resolvedYAML, error) {
	defaultConfigPath := "flexctl.yaml"
	configPath, configExplicit := parseConfigPath(args, defaultConfigPath)
	if configPath == "" {
		configPath = defaultConfigPath
	}
	if abs, err := filepath.Abs(configPath); err == nil {
		configPath = abs
	}

	yc, err := readYAMLConfigFile(configPath)
	if err == nil {
		return resolvedYAML{yc: yc, path: configPath, loaded: true}, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		if configExplicit {
			return resolvedYAML{}, err
		}
		// Missing default config is OK.
		return resolvedYAML{yc: nil, path: configPath, loaded: false}, nil
	}
	return resolvedYAML{}, err
}

func loadDotenv(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	if err := godotenv.Load(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("load %s error: %v", path, err)
		}
		return path, false
	}
	return path, true
}

type layerValues struct {
	baseURL   string
	timeout   time.Duration
	tranID    bool
	baseURLOK bool
	timeoutOK bool
	tranIDOK  bool
}

func readFileValues(yc *yamlConfig) (layerValues, error) {
	if yc == nil {
		return layerValues{}, nil
	}
	baseURL, baseURLOK, err := yamlStringCompat(yc, "client.base_url", "base_url")
	if err != nil {
		return layerValues{}, err
	}
	timeout, timeoutOK, err := yamlDurationCompat(yc, "timeouts.request", "timeout")
	if err != nil {
		return layerValues{}, err
	}
	tranID, tranIDOK, err := yc.getBool("client.tran_id")
	if err != nil {
		return layerValues{}, err
	}
	return layerValues{
		baseURL:   baseURL,
		timeout:   timeout,
		tranID:    tranID,
		baseURLOK: baseURLOK,
		timeoutOK: timeoutOK,
		tranIDOK:  tranIDOK,
	}, nil
}

func readEnvValues() (layerValues, error) {
	baseURL, baseURLOK, err := getenvStringStrict("FLEXGATE_BASE_URL")
	if err != nil {
		return layerValues{}, err
	}
	timeout, timeoutOK, err := getenvDurationStrict("FLEXGATE_TIMEOUT")
	if err != nil {
		return layerValues{}, err
	}
	tranID, tranIDOK, err := getenvBoolStrict("FLEXGATE_TRAN_ID")
	if err != nil {
		return layerValues{}, err
	}
	return layerValues{
		baseURL:   baseURL,
		timeout:   timeout,
		tranID:    tranID,
		baseURLOK: baseURLOK,
		timeoutOK: timeoutOK,
		tranIDOK:  tranIDOK,
	}, nil
}

func computeDefaults(fileVals, envVals layerValues) (string, time.Duration, bool) {
	baseURLDefault := defaultBaseURL
	if fileVals.baseURLOK {
		baseURLDefault = fileVals.baseURL
	}
	if envVals.baseURLOK {
		baseURLDefault = envVals.baseURL
	}

	timeoutDefault := defaultTimeout
	if fileVals.timeoutOK {
		timeoutDefault = fileVals.timeout
	}
	if envVals.timeoutOK {
		timeoutDefault = envVals.timeout
	}

	tranIDDefault := false
	if fileVals.tranIDOK {
		tranIDDefault = fileVals.tranID
	}
	if envVals.tranIDOK {
		tranIDDefault = envVals.tranID
	}

	return baseURLDefault, timeoutDefault, tranIDDefault
}

func visitedFlags(fs *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

func pickSource(flagSet bool, envOK bool, fileOK bool) configSource {
	if flagSet {
		return sourceFlag
	}
	if envOK {
		return sourceEnv
	}
	if fileOK {
		return sourceFile
	}
	return sourceDefault
}

// parseConfigPath pre-scans args for -config so the YAML file can seed
// the defaults of every other flag.
func parseConfigPath(args []string, defaultValue string) (string, bool) {
	fs := flag.NewFlagSet("preconfig", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	config := fs.String("config", defaultValue, "path to YAML config file")
	// Unknown flags stop the pre-scan; only -config matters here.
	for i, a := range args {
		if a == "-config" || a == "--config" || strings.HasPrefix(a, "-config=") || strings.HasPrefix(a, "--config=") {
			_ = fs.Parse(args[i:])
			break
		}
	}
	explicit := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	return *config, explicit
}

func yamlStringCompat(yc *yamlConfig, primary string, legacy string) (string, bool, error) {
	v, ok, err := yc.getString(primary)
	if err != nil {
		return "", ok, err
	}
	if ok {
		return v, true, nil
	}
	if legacy == "" {
		return "", false, nil
	}
	return yc.getString(legacy)
}

func yamlDurationCompat(yc *yamlConfig, primary string, legacy string) (time.Duration, bool, error) {
	v, ok, err := yc.getDuration(primary)
	if err != nil {
		return 0, ok, err
	}
	if ok {
		return v, true, nil
	}
	if legacy == "" {
		return 0, false, nil
	}
	return yc.getDuration(legacy)
}

func getenvStringStrict(key string) (string, bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false, nil
	}
	if v == "" {
		return "", true, fmt.Errorf("env %s is empty", key)
	}
	return v, true, nil
}

func getenvDurationStrict(key string) (time.Duration, bool, error) {
	v, ok, err := getenvStringStrict(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, true, fmt.Errorf("env %s invalid duration: %w", key, err)
	}
	return d, true, nil
}

func getenvBoolStrict(key string) (bool, bool, error) {
	v, ok, err := getenvStringStrict(key)
	if err != nil || !ok {
		return false, ok, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, true, fmt.Errorf("env %s invalid bool: %w", key, err)
	}
	return b, true, nil
}
