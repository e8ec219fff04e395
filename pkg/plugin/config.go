package plugin

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/buffwatch/internal/core"
)

// DecodeConfig decodes a plugin config map into out, a pointer to a struct
// tagged with `mapstructure`. Strings convert to durations and numbers,
// and a nil map leaves out unchanged.
func DecodeConfig(cfg map[string]any, out any) error {
	if cfg == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	return nil
}
