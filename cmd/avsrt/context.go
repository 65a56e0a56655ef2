package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"avsrt/internal/config"
	"avsrt/internal/pipeline"
)

type commandContext struct {
	configFlag *string
	deps       pipeline.Deps

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, collaborators pipeline.Deps) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		deps:       collaborators,
	}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

// translateFlags are shared by commands whose stage list depends on whether
// translation is on.
type translateFlags struct {
	translate  bool
	targetLang string
}

func (f *translateFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.translate, "translate", false, "Also produce target-language subtitles")
	cmd.Flags().StringVar(&f.targetLang, "target-lang", "", "Target language code, e.g. zh-TW (implies --translate)")
}

// apply overrides the translate section of cfg. An explicit --translate wins;
// otherwise --target-lang turns translation on.
func (f *translateFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	enabled := cfg.Translate.Enabled
	switch {
	case cmd.Flags().Changed("translate"):
		enabled = f.translate
	case strings.TrimSpace(f.targetLang) != "":
		enabled = true
	}
	return cfg.OverrideTranslation(enabled, f.targetLang)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
