package cyclerexport

import (
	"strings"
	"unicode"
)

// Canonical field names shared by the step and detail exports
const (
	FieldStepNumber       = "step_number"
	FieldStepType         = "step_type"
	FieldStartTime        = "start_time"
	FieldEndTime          = "end_time"
	FieldDuration         = "duration"
	FieldVoltageStart     = "voltage_start"
	FieldVoltageEnd       = "voltage_end"
	FieldCurrent          = "current"
	FieldCapacity         = "capacity"
	FieldTotalCapacity    = "total_capacity"
	FieldEnergy           = "energy"
	FieldPower            = "power"
	FieldTemperature      = "temperature"
	FieldTemperatureStart = "temperature_start"
	FieldTemperatureEnd   = "temperature_end"
	FieldExecutionTime    = "execution_time"
	FieldTotalTime        = "total_time"
	FieldTimestamp        = "timestamp"
	FieldVoltage          = "voltage"
)

// Field is a canonical column with its accepted header aliases in priority order
type Field struct {
	Name     string
	Aliases  []string
	Required bool
}

// HeaderSpec is the declarative alias table for one export kind
type HeaderSpec struct {
	Kind   string
	Fields []Field
}

var stepNumberAliases = []string{"工步", "工步序號", "工步号", "step_number", "step number", "step_index", "step index", "step"}

// StepHeaders describes the step summary export
var StepHeaders = HeaderSpec{
	Kind: "step",
	Fields: []Field{
		{Name: FieldStepNumber, Aliases: stepNumberAliases, Required: true},
		{Name: FieldStepType, Aliases: []string{"工步種類", "工步类型", "工步類型", "step_type", "step type", "type", "mode"}, Required: true},
		{Name: FieldStartTime, Aliases: []string{"日期時間", "日期时间", "起始時間", "start_time", "start time", "date_time", "datetime"}, Required: true},
		{Name: FieldEndTime, Aliases: []string{"結束時間", "结束时间", "end_time", "end time"}},
		{Name: FieldDuration, Aliases: []string{"工步執行時間(秒)", "工步执行时间(秒)", "duration", "duration(s)", "step_time", "step time(s)"}},
		{Name: FieldVoltageStart, Aliases: []string{"起始電壓(V)", "起始电压(V)", "voltage_start", "start voltage(v)"}},
		{Name: FieldVoltageEnd, Aliases: []string{"截止電壓(V)", "截止电压(V)", "voltage_end", "end voltage(v)", "voltage(v)"}, Required: true},
		{Name: FieldCurrent, Aliases: []string{"截止電流(A)", "截止电流(A)", "current", "current(a)", "end current(a)"}, Required: true},
		{Name: FieldCapacity, Aliases: []string{"截止電量(Ah)", "截止电量(Ah)", "capacity", "capacity(ah)"}, Required: true},
		{Name: FieldTotalCapacity, Aliases: []string{"總電量(Ah)", "总电量(Ah)", "total_capacity", "total capacity(ah)"}},
		{Name: FieldEnergy, Aliases: []string{"能量(Wh)", "energy", "energy(wh)"}, Required: true},
		{Name: FieldPower, Aliases: []string{"功率(W)", "power", "power(w)"}},
		{Name: FieldTemperature, Aliases: []string{"Aux T1", "溫度", "温度", "temperature", "temperature(c)"}},
		{Name: FieldTemperatureStart, Aliases: []string{"起始溫度", "temperature_start"}},
		{Name: FieldTemperatureEnd, Aliases: []string{"截止溫度", "temperature_end"}},
	},
}

// DetailHeaders describes the high-frequency detail export
var DetailHeaders = HeaderSpec{
	Kind: "detail",
	Fields: []Field{
		{Name: FieldStepNumber, Aliases: stepNumberAliases, Required: true},
		{Name: FieldExecutionTime, Aliases: []string{"工步執行時間(秒)", "工步执行时间(秒)", "execution_time", "step_time", "step time(s)"}, Required: true},
		{Name: FieldTotalTime, Aliases: []string{"執行時間(秒)", "执行时间(秒)", "total_time", "test_time", "test time(s)"}},
		{Name: FieldTimestamp, Aliases: []string{"日期時間", "日期时间", "timestamp", "date_time", "datetime"}},
		{Name: FieldVoltage, Aliases: []string{"電壓(V)", "电压(V)", "voltage", "voltage(v)"}, Required: true},
		{Name: FieldCurrent, Aliases: []string{"電流(A)", "电流(A)", "current", "current(a)"}, Required: true},
		{Name: FieldCapacity, Aliases: []string{"電量(Ah)", "电量(Ah)", "capacity", "capacity(ah)"}},
		{Name: FieldEnergy, Aliases: []string{"能量(Wh)", "energy", "energy(wh)"}},
		{Name: FieldTemperature, Aliases: []string{"Aux T1", "溫度", "温度", "temperature", "temperature(c)"}},
	},
}

// HeaderCheck is the outcome of matching a header row against a HeaderSpec
type HeaderCheck struct {
	Valid   bool
	Missing []string       // canonical names of missing required fields
	Mapping map[string]int // canonical name to column index
}

// NormalizeHeader lowercases a header and removes all whitespace and BOMs
func NormalizeHeader(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(h) {
		if unicode.IsSpace(r) || r == '\ufeff' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CheckHeaders resolves headers against spec. It never fails; missing
// required fields are reported in the result.
func CheckHeaders(headers []string, spec HeaderSpec) HeaderCheck {
	check := HeaderCheck{Mapping: make(map[string]int)}
	for _, field := range spec.Fields {
		idx, ok := resolve(headers, field.Aliases)
		if ok {
			check.Mapping[field.Name] = idx
			continue
		}
		if field.Required {
			check.Missing = append(check.Missing, field.Name)
		}
	}
	check.Valid = len(check.Missing) == 0
	return check
}

// resolve returns the column of the first alias, in alias order, that is present
func resolve(headers []string, aliases []string) (int, bool) {
	index := make(map[string]int, len(headers))
	for i, h := range headers {
		n := NormalizeHeader(h)
		if _, seen := index[n]; !seen {
			index[n] = i
		}
	}
	for _, alias := range aliases {
		if i, ok := index[NormalizeHeader(alias)]; ok {
			return i, true
		}
	}
	return 0, false
}
