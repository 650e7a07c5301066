package domain

import (
	"fmt"
	"math"
	"strconv"
)

// CalculatePercentage 以百分比字符串表示 x/y，保留 digits 位小数。
// 不超过最小可表示值的正数显示为 "<0.01%" 之类的形式，y 为 0 时返回 "0%"。
func CalculatePercentage(x, y float64, digits int) string {
	if y == 0 {
		return "0%"
	}
	percentage := x / y * 100
	threshold := math.Pow10(-digits)
	if percentage > 0 && percentage <= threshold {
		return "<" + strconv.FormatFloat(threshold, 'f', digits, 64) + "%"
	}
	return fmt.Sprintf("%.*f%%", digits, percentage)
}
