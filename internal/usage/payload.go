package usage

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/goodtune/coxstatus/internal/errs"
)

// flexString accepts a JSON string, number, boolean or null.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(data)
	return nil
}

// flexBool accepts true/false as JSON booleans or strings.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	if s == "" {
		*f = false
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(string(s)))
	if err != nil {
		return err
	}
	*f = flexBool(b)
	return nil
}

type wireError struct {
	ErrorCode    flexString `json:"errorCode"`
	ErrorMessage flexString `json:"errorMessage"`
}

type wireDaily struct {
	Date flexString `json:"date"`
	Data flexString `json:"data"`
}

type wireUsage struct {
	ModemDetails []struct {
		DataUsed struct {
			Daily []wireDaily `json:"daily"`
		} `json:"dataUsed"`
		ErrorDaily *wireError `json:"errorDaily"`
	} `json:"modemDetails"`
}

type wireSummary struct {
	ErrorFlag          flexBool   `json:"errorFlag"`
	ErrorCode          flexString `json:"errorCode"`
	ErrorMessage       flexString `json:"errorMessage"`
	PercentageDataUsed flexString `json:"percentageDataUsed"`
	TotalDataUsed      flexString `json:"totalDataUsed"`
	DataPlan           flexString `json:"dataPlan"`
	UsageCycle         flexString `json:"usageCycle"`
	LastUpdate         flexString `json:"lastUpdate"`
}

// DecodeUsage parses the usage graph response. Only the first modem is read;
// a response without modems yields an empty series.
func DecodeUsage(data []byte) (UsagePayload, error) {
	var wire wireUsage
	if err := json.Unmarshal(data, &wire); err != nil {
		return UsagePayload{}, errs.Wrap(errs.KindParse, "usage.decode", "invalid usage JSON", err)
	}
	if len(wire.ModemDetails) == 0 {
		return UsagePayload{}, nil
	}

	modem := wire.ModemDetails[0]
	payload := UsagePayload{
		Daily: lo.Map(modem.DataUsed.Daily, func(d wireDaily, _ int) DailyEntry {
			return DailyEntry{Date: string(d.Date), Bytes: string(d.Data)}
		}),
	}
	// An errorDaily object with neither code nor message is a placeholder
	if e := modem.ErrorDaily; e != nil && (e.ErrorCode != "" || e.ErrorMessage != "") {
		payload.Error = &PortalError{
			Code:    string(modem.ErrorDaily.ErrorCode),
			Message: string(modem.ErrorDaily.ErrorMessage),
		}
	}
	return payload, nil
}

// DecodeSummary parses the JSON embedded in the summary page.
func DecodeSummary(data []byte) (SummaryPayload, error) {
	var wire wireSummary
	if err := json.Unmarshal(data, &wire); err != nil {
		return SummaryPayload{}, errs.Wrap(errs.KindParse, "summary.decode", "invalid summary JSON", err)
	}

	payload := SummaryPayload{
		PercentUsed: string(wire.PercentageDataUsed),
		TotalUsed:   string(wire.TotalDataUsed),
		Plan:        string(wire.DataPlan),
		Cycle:       string(wire.UsageCycle),
		LastUpdate:  string(wire.LastUpdate),
	}
	if wire.ErrorFlag {
		payload.Error = &PortalError{
			Code:    string(wire.ErrorCode),
			Message: string(wire.ErrorMessage),
		}
	}
	return payload, nil
}
