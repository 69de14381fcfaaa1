// Package markethours tracks the NSE trading session. The validator uses
// it for off-hours warnings and the live broker path refuses orders while
// the market is closed.
package markethours

import "time"

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// NSE cash-market session in IST.
const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30
)

// NSE holidays for 2026 (month, day). Source: NSE official holiday list.
var nseHolidays2026 = [...][2]int{
	{1, 26}, {2, 17}, {3, 14}, {3, 31}, {4, 2}, {4, 6}, {4, 10}, {4, 14},
	{5, 1}, {6, 7}, {7, 6}, {8, 15}, {8, 16}, {9, 5}, {10, 2}, {10, 20},
	{10, 21}, {11, 5}, {11, 6}, {11, 7}, {11, 19}, {12, 25},
}

// IsHoliday reports whether t falls on an NSE holiday.
func IsHoliday(t time.Time) bool {
	ist := t.In(IST)
	if ist.Year() != 2026 {
		return false
	}
	for _, h := range nseHolidays2026 {
		if int(ist.Month()) == h[0] && ist.Day() == h[1] {
			return true
		}
	}
	return false
}

// IsTradingDay reports whether t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	wd := t.In(IST).Weekday()
	return wd >= time.Monday && wd <= time.Friday && !IsHoliday(t)
}

// IsMarketOpen reports whether t falls within NSE trading hours
// (9:15 AM – 3:30 PM IST, Mon–Fri, excluding holidays).
func IsMarketOpen(t time.Time) bool {
	if !IsTradingDay(t) {
		return false
	}
	ist := t.In(IST)
	hm := ist.Hour()*60 + ist.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// NextOpen returns the next market open at or after t.
func NextOpen(t time.Time) time.Time {
	ist := t.In(IST)
	open := time.Date(ist.Year(), ist.Month(), ist.Day(), OpenHour, OpenMinute, 0, 0, IST)
	if ist.Before(open) && IsTradingDay(ist) {
		return open
	}
	d := ist.AddDate(0, 0, 1)
	for i := 0; i < 10; i++ {
		if IsTradingDay(d) {
			return time.Date(d.Year(), d.Month(), d.Day(), OpenHour, OpenMinute, 0, 0, IST)
		}
		d = d.AddDate(0, 0, 1)
	}
	return open.AddDate(0, 0, 1)
}
