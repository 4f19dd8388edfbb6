package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownColumn is returned by ColumnMap.Require when a column the
// caller needs is missing from the report header.
var ErrUnknownColumn = errors.New("report: unknown column")

type field int

const (
	fieldExtra field = iota
	fieldDate
	fieldHour
	fieldDayOfWeek
	fieldDevice
	fieldCampaignID
	fieldCampaignName
	fieldAdGroupID
	fieldAdGroupName
	fieldKeywordID
	fieldKeyword
	fieldMatchType
	fieldQuery
	fieldAdID
	fieldStatus
	fieldHeadline
	fieldDescription
	fieldPath1
	fieldPath2
	fieldFinalURL
	fieldLabels
	fieldAdGroupLabels
	fieldCampaignLabels
	fieldImpressions
	fieldClicks
	fieldCost
	fieldCostMicros
	fieldConversions
	fieldConversionValue
	fieldAvgPosition
	fieldMaxCPC
	fieldMaxCPCMicros
	fieldBudget
	fieldBudgetMicros
)

// columnAliases maps a normalised header (see normHeader) to a row field.
var columnAliases = func() map[string]field {
	groups := []struct {
		f       field
		headers []string
	}{
		{fieldDate, []string{"date", "day", "segmentsdate", "日付"}},
		{fieldHour, []string{"hour", "hourofday", "segmentshour", "時間", "時間帯"}},
		{fieldDayOfWeek, []string{"dayofweek", "segmentsdayofweek", "曜日"}},
		{fieldDevice, []string{"device", "segmentsdevice", "デバイス"}},

		{fieldCampaignID, []string{"campaignid", "キャンペーンid"}},
		{fieldCampaignName, []string{"campaignname", "campaign", "キャンペーン名", "キャンペーン"}},
		{fieldAdGroupID, []string{"adgroupid", "広告グループid"}},
		{fieldAdGroupName, []string{"adgroupname", "adgroup", "広告グループ名", "広告グループ"}},
		{fieldKeywordID, []string{"keywordid", "criterionid", "id"}},
		{fieldKeyword, []string{"criteria", "keyword", "keywordtext", "adgroupcriterionkeywordtext", "キーワード"}},
		{fieldMatchType, []string{"keywordmatchtype", "matchtype", "マッチタイプ"}},
		{fieldQuery, []string{"query", "searchterm", "searchtermviewsearchterm", "検索語句", "検索クエリ"}},
		{fieldAdID, []string{"adid", "広告id"}},
		{fieldStatus, []string{"status", "campaignstatus", "ステータス"}},

		{fieldPath1, []string{"path1", "パス1"}},
		{fieldPath2, []string{"path2", "パス2"}},
		{fieldFinalURL, []string{"finalurl", "finalurls", "creativefinalurls", "最終ページurl"}},
		{fieldLabels, []string{"labels", "label", "ラベル"}},
		{fieldAdGroupLabels, []string{"adgrouplabels", "広告グループのラベル"}},
		{fieldCampaignLabels, []string{"campaignlabels", "キャンペーンのラベル"}},

		{fieldImpressions, []string{"impressions", "impr", "metricsimpressions", "表示回数"}},
		{fieldClicks, []string{"clicks", "metricsclicks", "クリック数"}},
		{fieldCost, []string{"cost", "費用", "ご利用額"}},
		{fieldCostMicros, []string{"costmicros", "metricscostmicros"}},
		{fieldConversions, []string{"conversions", "conv", "metricsconversions", "コンバージョン数", "コンバージョン"}},
		{fieldConversionValue, []string{"conversionvalue", "totalconvvalue", "metricsconversionsvalue", "コンバージョン価値"}},
		{fieldAvgPosition, []string{"averageposition", "avgposition", "平均掲載順位"}},
		{fieldMaxCPC, []string{"cpcbid", "maxcpc", "上限クリック単価"}},
		{fieldMaxCPCMicros, []string{"cpcbidmicros", "adgroupcriterioncpcbidmicros"}},
		{fieldBudget, []string{"amount", "budget", "dailybudget", "予算"}},
		{fieldBudgetMicros, []string{"amountmicros", "campaignbudgetamountmicros"}},
	}
	m := make(map[string]field)
	for _, g := range groups {
		for _, h := range g.headers {
			m[h] = g.f
		}
	}
	return m
}()

// normHeader lowercases h and strips spaces, underscores, dots and hyphens,
// so "Campaign Name", "campaign_name" and "campaign.name" all match.
func normHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(h)) {
		switch r {
		case ' ', '_', '.', '-', '　':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func lookupField(header string) field {
	n := normHeader(header)
	if f, ok := columnAliases[n]; ok {
		return f
	}
	switch {
	case strings.HasPrefix(n, "headline"), strings.HasPrefix(n, "見出し"):
		return fieldHeadline
	case strings.HasPrefix(n, "description"), strings.HasPrefix(n, "説明文"):
		return fieldDescription
	}
	return fieldExtra
}

// ColumnMap resolves the columns of one report header.
type ColumnMap struct {
	headers []string
	fields  []field
}

// NewColumnMap builds a ColumnMap for header.
func NewColumnMap(header []string) *ColumnMap {
	m := &ColumnMap{
		headers: make([]string, len(header)),
		fields:  make([]field, len(header)),
	}
	for i, h := range header {
		m.headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		m.fields[i] = lookupField(h)
	}
	return m
}

// Known returns the number of recognised (non-extra) columns.
func (m *ColumnMap) Known() int {
	n := 0
	for _, f := range m.fields {
		if f != fieldExtra {
			n++
		}
	}
	return n
}

// Require returns ErrUnknownColumn naming the first of names that the
// header does not provide. names use the same aliases as headers.
func (m *ColumnMap) Require(names ...string) error {
	for _, name := range names {
		want := lookupField(name)
		found := false
		for _, f := range m.fields {
			if f == want && want != fieldExtra {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrUnknownColumn, name)
		}
	}
	return nil
}

// Parse converts one record into a Row. A value that cannot be parsed for
// its column's type fails the whole row.
func (m *ColumnMap) Parse(values []string) (Row, error) {
	var r Row
	for i, v := range values {
		if i >= len(m.fields) {
			break
		}
		if err := setField(&r, m.fields[i], m.headers[i], strings.TrimSpace(v)); err != nil {
			return Row{}, fmt.Errorf("column %q: %w", m.headers[i], err)
		}
	}
	if !r.HasDayOfWeek && !r.Date.IsZero() {
		r.DayOfWeek = r.Date.Weekday()
		r.HasDayOfWeek = true
	}
	return r, nil
}

// ParseMap converts a column->value map (HTTP and SQL sources) into a Row.
// Columns are taken in natural order, so headline_2 precedes headline_10.
func ParseMap(values map[string]string) (Row, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return naturalLess(keys[i], keys[j]) })
	vals := make([]string, len(keys))
	for i, k := range keys {
		vals[i] = values[k]
	}
	return NewColumnMap(keys).Parse(vals)
}

// naturalLess orders column names by their text, then by a trailing number.
func naturalLess(a, b string) bool {
	pa, na := splitNumber(a)
	pb, nb := splitNumber(b)
	if pa != pb {
		return pa < pb
	}
	if na != nb {
		return na < nb
	}
	return a < b
}

// splitNumber splits s into a prefix and the value of its trailing digits,
// -1 when there are none.
func splitNumber(s string) (string, int) {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == len(s) {
		return s, -1
	}
	n, err := strconv.Atoi(s[i:])
	if err != nil {
		return s, -1
	}
	return s[:i], n
}

func setField(r *Row, f field, header, v string) error {
	var err error
	switch f {
	case fieldDate:
		if v != "" {
			r.Date, err = parseDate(v)
		}
	case fieldHour:
		if v != "" {
			var h int64
			h, err = strconv.ParseInt(v, 10, 64)
			if err == nil && (h < 0 || h > 23) {
				err = fmt.Errorf("hour %d out of range", h)
			}
			r.Hour, r.HasHour = int(h), err == nil
		}
	case fieldDayOfWeek:
		if v != "" {
			r.DayOfWeek, err = parseWeekday(v)
			r.HasDayOfWeek = err == nil
		}
	case fieldDevice:
		r.Device = v
	case fieldCampaignID:
		r.CampaignID = v
	case fieldCampaignName:
		r.CampaignName = v
	case fieldAdGroupID:
		r.AdGroupID = v
	case fieldAdGroupName:
		r.AdGroupName = v
	case fieldKeywordID:
		r.KeywordID = v
	case fieldKeyword:
		r.Keyword = v
	case fieldMatchType:
		r.MatchType = v
	case fieldQuery:
		r.Query = v
	case fieldAdID:
		r.AdID = v
	case fieldStatus:
		r.Status = v
	case fieldHeadline:
		if v != "" && v != "--" {
			r.Headlines = append(r.Headlines, v)
		}
	case fieldDescription:
		if v != "" && v != "--" {
			r.Descriptions = append(r.Descriptions, v)
		}
	case fieldPath1:
		r.Path1 = dashEmpty(v)
	case fieldPath2:
		r.Path2 = dashEmpty(v)
	case fieldFinalURL:
		r.FinalURL = firstURL(v)
	case fieldLabels:
		r.Labels, err = parseLabels(v)
	case fieldAdGroupLabels:
		r.AdGroupLabels, err = parseLabels(v)
	case fieldCampaignLabels:
		r.CampaignLabels, err = parseLabels(v)
	case fieldImpressions:
		var n float64
		n, err = ParseNumber(v)
		r.Impressions = int64(n)
	case fieldClicks:
		var n float64
		n, err = ParseNumber(v)
		r.Clicks = int64(n)
	case fieldCost:
		r.Cost, err = ParseNumber(v)
	case fieldCostMicros:
		r.Cost, err = parseMicros(v)
	case fieldConversions:
		r.Conversions, err = ParseNumber(v)
	case fieldConversionValue:
		r.ConversionValue, err = ParseNumber(v)
	case fieldAvgPosition:
		r.AvgPosition, err = ParseNumber(v)
	case fieldMaxCPC:
		r.MaxCPC, err = ParseNumber(v)
	case fieldMaxCPCMicros:
		r.MaxCPC, err = parseMicros(v)
	case fieldBudget:
		r.Budget, err = ParseNumber(v)
	case fieldBudgetMicros:
		r.Budget, err = parseMicros(v)
	default:
		if r.Extra == nil {
			r.Extra = make(map[string]string)
		}
		r.Extra[header] = v
	}
	return err
}

// ParseNumber parses a report number. It accepts thousands separators,
// currency signs, a trailing "%", the "<"/">" prefixes of share columns,
// and treats "", "--" and " --" as 0.
func ParseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "<> ")
	s = strings.TrimRight(s, "% ")
	s = strings.NewReplacer(",", "", "¥", "", "￥", "", "$", "", "€", "", "円", "").Replace(s)
	if s == "" || s == "--" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseMicros(s string) (float64, error) {
	v, err := ParseNumber(s)
	return v / 1e6, err
}

var dateLayouts = []string{"2006-01-02", "20060102", "2006/01/02", "2006/1/2", time.RFC3339}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,

	"日曜日": time.Sunday,
	"月曜日": time.Monday,
	"火曜日": time.Tuesday,
	"水曜日": time.Wednesday,
	"木曜日": time.Thursday,
	"金曜日": time.Friday,
	"土曜日": time.Saturday,

	"日": time.Sunday,
	"月": time.Monday,
	"火": time.Tuesday,
	"水": time.Wednesday,
	"木": time.Thursday,
	"金": time.Friday,
	"土": time.Saturday,
}

func parseWeekday(s string) (time.Weekday, error) {
	if d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return d, nil
	}
	if len(s) >= 3 {
		prefix := strings.ToLower(s[:3])
		for name, d := range weekdayNames {
			if strings.HasPrefix(name, prefix) && len(name) > 3 && name[0] < 0x80 {
				return d, nil
			}
		}
	}
	return 0, fmt.Errorf("unrecognised day of week %q", s)
}

// parseLabels accepts the JSON array form AWQL returns (["a","b"]), the
// "--" placeholder, and semicolon-separated lists.
func parseLabels(s string) ([]string, error) {
	if s == "" || s == "--" {
		return nil, nil
	}
	if strings.HasPrefix(s, "[") {
		var out []string
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("labels: %w", err)
		}
		return out, nil
	}
	var out []string
	for _, p := range strings.Split(s, ";") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// firstURL takes the first URL of a JSON list ("[\"https://...\"]") or
// returns s unchanged.
func firstURL(s string) string {
	s = dashEmpty(s)
	if strings.HasPrefix(s, "[") {
		var urls []string
		if err := json.Unmarshal([]byte(s), &urls); err == nil && len(urls) > 0 {
			return urls[0]
		}
	}
	return s
}

func dashEmpty(s string) string {
	if s == "--" {
		return ""
	}
	return s
}
