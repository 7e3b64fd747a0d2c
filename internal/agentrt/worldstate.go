package agentrt

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// reservedWorldState types the handful of reserved world_state keys named
// in spec.md §2 (hazard_level, time_of_day, weather); everything else an
// environment_update carries is scenario-defined and passes through
// untyped, per the "closed set of reserved keys plus an untyped extra bag"
// decision in spec.md's Design Notes.
type reservedWorldState struct {
	HazardLevel int    `mapstructure:"hazard_level"`
	TimeOfDay   string `mapstructure:"time_of_day"`
	Weather     string `mapstructure:"weather"`
}

var reservedWorldStateKeys = []string{"hazard_level", "time_of_day", "weather"}

// validateReservedWorldState rejects an environment_update whose reserved
// keys don't match their declared type (e.g. hazard_level as a string), per
// §9's "action handlers reject writes to reserved keys whose declared type
// is violated." Scenario-defined dynamics keys are left unchecked.
func validateReservedWorldState(params map[string]any) error {
	reserved := make(map[string]any, len(reservedWorldStateKeys))
	for _, k := range reservedWorldStateKeys {
		if v, ok := params[k]; ok {
			reserved[k] = v
		}
	}
	if len(reserved) == 0 {
		return nil
	}

	var out reservedWorldState
	if err := mapstructure.Decode(reserved, &out); err != nil {
		return fmt.Errorf("reserved world_state key has the wrong type: %w", err)
	}
	if _, ok := reserved["hazard_level"]; ok && (out.HazardLevel < 0 || out.HazardLevel > 10) {
		return fmt.Errorf("hazard_level must be 0-10, got %d", out.HazardLevel)
	}
	return nil
}
