package watchman

import (
	"fmt"

	"github.com/wisptrack/poltergeist/pkg/interfaces"
	"github.com/wisptrack/poltergeist/pkg/logger"
	"github.com/wisptrack/poltergeist/pkg/types"
	"github.com/wisptrack/poltergeist/pkg/utils"
)

// ConfigManager manages watchman configuration
type ConfigManager struct {
	projectRoot string
	logger      logger.Logger
}

// NewConfigManager creates a new watchman config manager
func NewConfigManager(projectRoot string, log logger.Logger) *ConfigManager {
	return &ConfigManager{
		projectRoot: projectRoot,
		logger:      log,
	}
}

// EnsureConfigUpToDate ensures watchman config is current
func (m *ConfigManager) EnsureConfigUpToDate(config *types.PoltergeistConfig) error {
	// TODO: Implement .watchmanconfig generation
	return nil
}

// SuggestOptimizations suggests performance optimizations
func (m *ConfigManager) SuggestOptimizations() ([]string, error) {
	suggestions := []string{}

	// TODO: Analyze project and suggest optimizations

	return suggestions, nil
}

// CreateExclusionExpressions creates watchman exclusion expressions
func (m *ConfigManager) CreateExclusionExpressions(config *types.PoltergeistConfig) []interfaces.ExclusionExpression {
	exclusions := []interfaces.ExclusionExpression{}

	// Add custom exclusions
	if config.Watchman != nil && config.Watchman.ExcludeDirs != nil {
		for _, dir := range config.Watchman.ExcludeDirs {
			exclusions = append(exclusions, interfaces.ExclusionExpression{
				Type:     "dirname",
				Patterns: []string{dir},
			})
		}
	}

	// Add default exclusions if enabled
	if config.Watchman == nil || config.Watchman.UseDefaultExclusions {
		for _, pattern := range utils.GetDefaultExclusions() {
			exclusions = append(exclusions, interfaces.ExclusionExpression{
				Type:     "dirname",
				Patterns: []string{pattern},
			})
		}
	}

	return exclusions
}

// NormalizeWatchPattern normalizes a watch pattern per the deterministic
// rules in pkg/utils, rejecting patterns that target an excluded directory.
func (m *ConfigManager) NormalizeWatchPattern(pattern string) (string, error) {
	return utils.NormalizeWatchPattern(pattern)
}

// ValidateWatchPattern validates a watch pattern
func (m *ConfigManager) ValidateWatchPattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("empty watch pattern")
	}
	return nil
}
