package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cinnlang/autoschedule-go/internal/constants"
	"github.com/cinnlang/autoschedule-go/internal/types"
	"gopkg.in/yaml.v3"
)

// Manager handles configuration loading and validation.
type Manager struct {
	config *types.Config
	path   string
}

// NewManager creates a new configuration manager seeded with defaults.
func NewManager() *Manager {
	return &Manager{
		config: getDefaultConfig(),
	}
}

// Load loads configuration from a file, applies environment overrides, and
// validates the result before committing it to the manager.
func (m *Manager) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	config := getDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := m.applyEnvOverrides(config); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := m.validate(config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	m.config = config
	m.path = path
	return nil
}

// Save writes the current configuration to a file.
func (m *Manager) Save(path string) error {
	data, err := yaml.Marshal(m.config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfig returns the current configuration.
func (m *Manager) GetConfig() *types.Config {
	return m.config
}

// SetConfig replaces the current configuration wholesale.
func (m *Manager) SetConfig(config *types.Config) {
	m.config = config
}

// GetPath returns the configuration file path the manager last loaded from.
func (m *Manager) GetPath() string {
	return m.path
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func (m *Manager) applyEnvOverrides(config *types.Config) error {
	if topK := os.Getenv("TOPK_PER_TASK"); topK != "" {
		if n, err := strconv.Atoi(topK); err == nil {
			config.Database.TopKPerTask = n
		}
	}
	if logPath := os.Getenv("DATABASE_LOG_PATH"); logPath != "" {
		config.Database.LogPath = logPath
	}

	if initPop := os.Getenv("INIT_POPULATION_NUM"); initPop != "" {
		if n, err := strconv.Atoi(initPop); err == nil {
			config.Evolutionary.InitPopulationNum = n
		}
	}
	if epsGreedy := os.Getenv("EPS_GREEDY"); epsGreedy != "" {
		if f, err := strconv.ParseFloat(epsGreedy, 64); err == nil {
			config.Evolutionary.EpsGreedy = f
		}
	}

	if outputDir := os.Getenv("OUTPUT_DIR"); outputDir != "" {
		config.OutputDir = outputDir
	}
	if seed := os.Getenv("SEED"); seed != "" {
		if n, err := strconv.ParseUint(seed, 10, 64); err == nil {
			config.Seed = n
		}
	}
	if verbose := os.Getenv("VERBOSE"); verbose != "" {
		config.Verbose = strings.ToLower(verbose) == "true"
	}

	return nil
}

// validate validates the configuration.
func (m *Manager) validate(config *types.Config) error {
	if config.Database.TopKPerTask <= 0 {
		return fmt.Errorf("database top-k per task must be positive")
	}
	if config.Database.CheckpointInterval <= 0 {
		return fmt.Errorf("database checkpoint interval must be positive")
	}

	if config.Evolutionary.InitPopulationNum <= 0 {
		return fmt.Errorf("init population num must be positive")
	}
	if config.Evolutionary.PickDatabaseTopK <= 0 {
		return fmt.Errorf("pick database topk must be positive")
	}
	if config.Evolutionary.NumSamplesPerIteration <= 0 {
		return fmt.Errorf("num samples per iteration must be positive")
	}
	if config.Evolutionary.EpsGreedy < 0 || config.Evolutionary.EpsGreedy > 1 {
		return fmt.Errorf("eps greedy must be in [0, 1]")
	}

	if config.SearchSpace.MaxSketchSteps <= 0 {
		return fmt.Errorf("max sketch steps must be positive")
	}

	if config.OutputDir == "" {
		config.OutputDir = constants.OutputDir
	}
	if config.Database.LogPath == "" {
		config.Database.LogPath = filepath.Join(config.OutputDir, constants.DatabaseDir, "records.log")
	}

	return nil
}

// getDefaultConfig returns the default configuration.
func getDefaultConfig() *types.Config {
	return &types.Config{
		Database: types.DatabaseConfig{
			TopKPerTask:        constants.DefaultTopKPerTask,
			LogPath:            filepath.Join(constants.OutputDir, constants.DatabaseDir, "records.log"),
			CheckpointInterval: constants.DefaultCheckpointInterval,
		},
		Evolutionary: types.EvolutionaryConfig{
			InitPopulationNum:      constants.DefaultInitPopulationNum,
			PickDatabaseTopK:       constants.DefaultPickDatabaseTopK,
			CrossOverNum:           constants.DefaultCrossOverNum,
			NumSamplesPerIteration: constants.DefaultNumSamplesPerIter,
			EpsGreedy:              constants.DefaultEpsGreedy,
			CrossoverUniform:       false,
			NumWorkers:             constants.DefaultNumWorkers,
		},
		SearchSpace: types.SearchSpaceConfig{
			MaxSketchSteps: 16,
		},
		Seed:      constants.DefaultRandomSeed,
		OutputDir: constants.OutputDir,
		Verbose:   false,
	}
}

// CreateDefaultConfig writes a default configuration file to path.
func CreateDefaultConfig(path string) error {
	manager := NewManager()
	return manager.Save(path)
}
