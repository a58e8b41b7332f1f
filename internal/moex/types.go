package moex

type MarketTicker struct {
	Ticker    string
	ValToday  float64 // turnover in RUB
	LastPrice float64
}

// table is the ISS columnar block: column names plus positional rows.
type table struct {
	Columns []string        `json:"columns"`
	Data    [][]interface{} `json:"data"`
}

func (t table) index() map[string]int {
	idx := make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		idx[c] = i
	}
	return idx
}

type marketdataResponse struct {
	Marketdata table `json:"marketdata"`
}

type candlesResponse struct {
	Candles table `json:"candles"`
}

func cell(row []interface{}, idx map[string]int, col string) interface{} {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return nil
	}
	return row[i]
}

func toFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
