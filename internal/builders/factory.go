// Package builders wires the closed TargetType set to concrete builders.
package builders

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wisptrack/poltergeist/pkg/builders"
	"github.com/wisptrack/poltergeist/pkg/interfaces"
	"github.com/wisptrack/poltergeist/pkg/logger"
	"github.com/wisptrack/poltergeist/pkg/types"
)

// Factory creates builders based on target type. The switch over
// TargetType is exhaustive: every member of the closed set must resolve
// to a builder, per §4.F.
type Factory struct{}

// NewFactory creates a new builder factory.
func NewFactory() *Factory {
	return &Factory{}
}

// CreateBuilder creates the builder for target's type tag.
func (f *Factory) CreateBuilder(
	target types.Target,
	projectRoot string,
	log logger.Logger,
	stateManager interfaces.StateManager,
) (interfaces.Builder, error) {
	switch target.GetType() {
	case types.TargetTypeExecutable:
		return builders.NewExecutableBuilder(target, projectRoot, log, stateManager), nil
	case types.TargetTypeAppBundle:
		return builders.NewAppBundleBuilder(target, projectRoot, log, stateManager), nil
	case types.TargetTypeNpm:
		return builders.NewNpmBuilder(target, projectRoot, log, stateManager), nil
	case types.TargetTypeTest:
		return builders.NewTestBuilder(target, projectRoot, log, stateManager), nil
	case types.TargetTypeCMakeExecutable:
		return NewCMakeExecutableBuilder(target, projectRoot, log, stateManager), nil
	case types.TargetTypeCMakeLibrary:
		return NewCMakeLibraryBuilder(target, projectRoot, log, stateManager), nil
	case types.TargetTypeCMakeCustom:
		return NewCMakeCustomBuilder(target, projectRoot, log, stateManager), nil
	case types.TargetTypeCustom:
		return builders.NewCustomBuilder(target, projectRoot, log, stateManager), nil
	default:
		return nil, fmt.Errorf("no builder registered for target type %q", target.GetType())
	}
}

// CMakeBuilder provides the configure+build command sequencing shared by
// the three CMake target kinds.
type CMakeBuilder struct {
	*builders.BaseBuilder
	generator  string
	buildType  types.CMakeBuildType
	cmakeArgs  []string
	targetName string
	parallel   bool
}

func newCMakeBuilder(
	target types.Target,
	projectRoot string,
	log logger.Logger,
	stateManager interfaces.StateManager,
) *CMakeBuilder {
	return &CMakeBuilder{
		BaseBuilder: builders.NewBaseBuilder(target, projectRoot, log, stateManager),
		generator:   "Unix Makefiles",
		buildType:   types.CMakeBuildTypeDebug,
		parallel:    true,
	}
}

func (b *CMakeBuilder) buildDir() string {
	return filepath.Join(b.ProjectRoot, "build")
}

// resolvePath resolves path relative to the project root. BaseBuilder's
// own resolvePath is unexported and not reachable from this package, so
// CMake builders (defined outside pkg/builders) keep their own copy.
func (b *CMakeBuilder) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(b.ProjectRoot, path)
}

func (b *CMakeBuilder) fileExists(path string) bool {
	_, err := os.Stat(b.resolvePath(path))
	return err == nil
}

func (b *CMakeBuilder) configure(ctx context.Context) error {
	if err := os.MkdirAll(b.buildDir(), 0755); err != nil {
		return fmt.Errorf("failed to create build directory: %w", err)
	}

	cmakeCmd := fmt.Sprintf("cmake -S . -B build -G %q -DCMAKE_BUILD_TYPE=%s", b.generator, b.buildType)
	for _, arg := range b.cmakeArgs {
		cmakeCmd += " " + arg
	}

	// Configure is a distinct phase from the timed build command: it
	// shares BaseBuilder's process/logging plumbing via RunCommand but is
	// invoked with no changed-file context.
	_, err := b.BaseBuilder.RunCommand(ctx, cmakeCmd, nil)
	return err
}

func (b *CMakeBuilder) buildCommand() string {
	cmd := fmt.Sprintf("cmake --build build --config %s", b.buildType)
	if b.targetName != "" {
		cmd += " --target " + b.targetName
	}
	if b.parallel {
		cmd += " --parallel"
	}
	return cmd
}

func (b *CMakeBuilder) ensureConfigured(ctx context.Context) error {
	if b.fileExists("build/CMakeCache.txt") {
		return nil
	}
	return b.configure(ctx)
}

func configureFailure(err error) types.BuildStatus {
	return types.BuildStatus{
		Status:       types.BuildStateFailure,
		Error:        err.Error(),
		ErrorSummary: truncate(err.Error(), 100),
		ErrorType:    types.BuildErrorConfiguration,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// CMakeExecutableBuilder builds a CMake-driven executable target.
type CMakeExecutableBuilder struct {
	*CMakeBuilder
	outputPath string
}

// NewCMakeExecutableBuilder creates a new CMake executable builder.
func NewCMakeExecutableBuilder(
	target types.Target,
	projectRoot string,
	log logger.Logger,
	stateManager interfaces.StateManager,
) *CMakeExecutableBuilder {
	b := &CMakeExecutableBuilder{CMakeBuilder: newCMakeBuilder(target, projectRoot, log, stateManager)}
	if t, ok := target.(*types.CMakeExecutableTarget); ok {
		applyCMakeFields(b.CMakeBuilder, t.Generator, t.BuildType, t.CMakeArgs, t.TargetName, t.Parallel)
		b.outputPath = t.OutputPath
	}
	return b
}

// Build configures (if needed) then invokes the CMake build command.
func (b *CMakeExecutableBuilder) Build(ctx context.Context, changedFiles []string) (types.BuildStatus, error) {
	if err := b.ensureConfigured(ctx); err != nil {
		return configureFailure(err), err
	}
	return b.BaseBuilder.RunCommand(ctx, b.buildCommand(), changedFiles)
}

// GetOutputInfo reports the resolved executable path.
func (b *CMakeExecutableBuilder) GetOutputInfo() string {
	return b.resolvePath(b.outputPath)
}

// CMakeLibraryBuilder builds a CMake-driven static/shared/dynamic library.
type CMakeLibraryBuilder struct {
	*CMakeBuilder
	libraryType types.LibraryType
	outputPath  string
}

// NewCMakeLibraryBuilder creates a new CMake library builder.
func NewCMakeLibraryBuilder(
	target types.Target,
	projectRoot string,
	log logger.Logger,
	stateManager interfaces.StateManager,
) *CMakeLibraryBuilder {
	b := &CMakeLibraryBuilder{CMakeBuilder: newCMakeBuilder(target, projectRoot, log, stateManager)}
	if t, ok := target.(*types.CMakeLibraryTarget); ok {
		applyCMakeFields(b.CMakeBuilder, t.Generator, t.BuildType, t.CMakeArgs, t.TargetName, t.Parallel)
		b.libraryType = t.LibraryType
		b.outputPath = t.OutputPath
	}
	return b
}

// Build configures (if needed) then invokes the CMake build command.
func (b *CMakeLibraryBuilder) Build(ctx context.Context, changedFiles []string) (types.BuildStatus, error) {
	if err := b.ensureConfigured(ctx); err != nil {
		return configureFailure(err), err
	}
	return b.BaseBuilder.RunCommand(ctx, b.buildCommand(), changedFiles)
}

// GetOutputInfo reports the resolved library path and linkage.
func (b *CMakeLibraryBuilder) GetOutputInfo() string {
	return fmt.Sprintf("%s (%s)", b.resolvePath(b.outputPath), b.libraryType)
}

// CMakeCustomBuilder builds an arbitrary CMake target by name with no
// assumed output artifact.
type CMakeCustomBuilder struct {
	*CMakeBuilder
}

// NewCMakeCustomBuilder creates a new CMake custom builder.
func NewCMakeCustomBuilder(
	target types.Target,
	projectRoot string,
	log logger.Logger,
	stateManager interfaces.StateManager,
) *CMakeCustomBuilder {
	b := &CMakeCustomBuilder{CMakeBuilder: newCMakeBuilder(target, projectRoot, log, stateManager)}
	if t, ok := target.(*types.CMakeCustomTarget); ok {
		applyCMakeFields(b.CMakeBuilder, t.Generator, t.BuildType, t.CMakeArgs, t.TargetName, t.Parallel)
	}
	return b
}

// Build configures (if needed) then invokes the CMake build command.
func (b *CMakeCustomBuilder) Build(ctx context.Context, changedFiles []string) (types.BuildStatus, error) {
	if err := b.ensureConfigured(ctx); err != nil {
		return configureFailure(err), err
	}
	return b.BaseBuilder.RunCommand(ctx, b.buildCommand(), changedFiles)
}

func applyCMakeFields(
	b *CMakeBuilder,
	generator string,
	buildType types.CMakeBuildType,
	cmakeArgs []string,
	targetName string,
	parallel *bool,
) {
	if generator != "" {
		b.generator = generator
	}
	if buildType != "" {
		b.buildType = buildType
	}
	b.cmakeArgs = cmakeArgs
	b.targetName = targetName
	if parallel != nil {
		b.parallel = *parallel
	}
}
