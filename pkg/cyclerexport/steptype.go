package cyclerexport

import (
	"strings"

	"github.com/neilberkman/batteryetl/internal/core/models"
)

// stepTypes maps normalized cycler labels onto the fixed step enumeration
var stepTypes = map[string]models.StepType{
	"cc_chg":    models.StepTypeCharge,
	"cccv_chg":  models.StepTypeCharge,
	"cp_chg":    models.StepTypeCharge,
	"chg":       models.StepTypeCharge,
	"charge":    models.StepTypeCharge,
	"cc-cv充電":   models.StepTypeCharge,
	"cc-cv充电":   models.StepTypeCharge,
	"cc充電":      models.StepTypeCharge,
	"cc充电":      models.StepTypeCharge,
	"cp充電":      models.StepTypeCharge,
	"cp充电":      models.StepTypeCharge,
	"超級cp充電":    models.StepTypeCharge,
	"超级cp充电":    models.StepTypeCharge,
	"充電":        models.StepTypeCharge,
	"充电":        models.StepTypeCharge,
	"cc_dchg":   models.StepTypeDischarge,
	"cp_dchg":   models.StepTypeDischarge,
	"dchg":      models.StepTypeDischarge,
	"discharge": models.StepTypeDischarge,
	"cc放電":      models.StepTypeDischarge,
	"cc放电":      models.StepTypeDischarge,
	"cp放電":      models.StepTypeDischarge,
	"cp放电":      models.StepTypeDischarge,
	"超級cp放電":    models.StepTypeDischarge,
	"超级cp放电":    models.StepTypeDischarge,
	"放電":        models.StepTypeDischarge,
	"放电":        models.StepTypeDischarge,
	"rest":      models.StepTypeRest,
	"pause":     models.StepTypeRest,
	"靜置":        models.StepTypeRest,
	"静置":        models.StepTypeRest,
	"溫箱控制":      models.StepTypeRest,
	"温箱控制":      models.StepTypeRest,
}

// NormalizeStepType maps a cycler step label to charge, discharge, rest or
// other. Unrecognized labels, including waveform steps, map to other.
func NormalizeStepType(label string) models.StepType {
	key := strings.ReplaceAll(NormalizeHeader(label), " ", "")
	if t, ok := stepTypes[key]; ok {
		return t
	}
	return models.StepTypeOther
}
