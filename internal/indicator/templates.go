package indicator

import (
	"context"
	"fmt"

	"klinecore/internal/model"
)

// checkEvery is how many bars a calc processes between context checks.
const checkEvery = 1024

func closeOf(b *model.Bar) float64  { return b.Close }
func volumeOf(b *model.Bar) float64 { return b.Volume }

// seriesFigures names one line per param: "<prefix>1", "<prefix>2", ...
func seriesFigures(prefix, title string) func([]float64) []Figure {
	return func(params []float64) []Figure {
		figs := make([]Figure, len(params))
		for i, p := range params {
			figs[i] = Figure{
				Key:   fmt.Sprintf("%s%d", prefix, i+1),
				Title: fmt.Sprintf("%s%d: ", title, int(p)),
				Type:  "line",
			}
		}
		return figs
	}
}

// seriesCalc runs one calculator per param over field and stores ready
// values under "<prefix>N".
func seriesCalc(prefix string, field func(*model.Bar) float64, newCalc func(period int) Calculator) CalcFunc {
	return func(ctx context.Context, bars []model.Bar, params []float64) ([]Result, error) {
		calcs := make([]Calculator, len(params))
		keys := make([]string, len(params))
		for i, p := range params {
			calcs[i] = newCalc(int(p))
			keys[i] = fmt.Sprintf("%s%d", prefix, i+1)
		}
		out := make([]Result, len(bars))
		for i := range bars {
			if i%checkEvery == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			v := field(&bars[i])
			r := make(Result, len(calcs))
			for j, c := range calcs {
				c.Update(v)
				if c.Ready() {
					r[keys[j]] = c.Value()
				}
			}
			out[i] = r
		}
		return out, nil
	}
}

func maTemplate() Template {
	return Template{
		Name:          "MA",
		ShortName:     "MA",
		Precision:     2,
		DefaultParams: []float64{5, 10, 30, 60},
		Figures:       seriesFigures("ma", "MA"),
		Calc:          seriesCalc("ma", closeOf, func(p int) Calculator { return NewSMA(p) }),
	}
}

func emaTemplate() Template {
	return Template{
		Name:          "EMA",
		ShortName:     "EMA",
		Precision:     2,
		DefaultParams: []float64{6, 12, 20},
		Figures:       seriesFigures("ema", "EMA"),
		Calc:          seriesCalc("ema", closeOf, func(p int) Calculator { return NewEMA(p) }),
	}
}

func smmaTemplate() Template {
	return Template{
		Name:          "SMMA",
		ShortName:     "SMMA",
		Precision:     2,
		DefaultParams: []float64{14},
		Figures:       seriesFigures("smma", "SMMA"),
		Calc:          seriesCalc("smma", closeOf, func(p int) Calculator { return NewSMMA(p) }),
	}
}

func rsiTemplate() Template {
	return Template{
		Name:          "RSI",
		ShortName:     "RSI",
		Precision:     2,
		DefaultParams: []float64{6, 12, 24},
		Figures:       seriesFigures("rsi", "RSI"),
		Calc:          seriesCalc("rsi", closeOf, func(p int) Calculator { return NewRSI(p) }),
	}
}

// volTemplate plots raw volume bars plus moving averages of volume.
func volTemplate() Template {
	maFigures := seriesFigures("ma", "MA")
	maCalc := seriesCalc("ma", volumeOf, func(p int) Calculator { return NewSMA(p) })
	return Template{
		Name:          "VOL",
		ShortName:     "VOLUME",
		Precision:     0,
		DefaultParams: []float64{5, 10, 20},
		Figures: func(params []float64) []Figure {
			return append(maFigures(params), Figure{Key: "volume", Title: "VOLUME: ", Type: "bar"})
		},
		Calc: func(ctx context.Context, bars []model.Bar, params []float64) ([]Result, error) {
			out, err := maCalc(ctx, bars, params)
			if err != nil {
				return nil, err
			}
			for i := range bars {
				out[i]["volume"] = bars[i].Volume
			}
			return out, nil
		},
	}
}
