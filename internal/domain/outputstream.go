package domain

import (
	"fmt"
	"regexp"
	"time"
)

// 日志行所属的输出流。
const (
	StreamStdout = "STDOUT"
	StreamStderr = "STDERR"
	StreamTitle  = "TITLE"
	StreamStatus = "STATUS"
	// StreamRetired 标记压缩后的占位行，压缩任务不会再次处理它
	StreamRetired = "RETIRED"
)

// OutputStream 是一条只追加的部署日志流。
type OutputStream struct {
	UUID      string    `json:"uuid"`
	CreatedAt time.Time `json:"created_at"`
}

// OutputStreamLine 是日志流中的一行。
type OutputStreamLine struct {
	ID        int64     `json:"id"`
	StreamID  string    `json:"stream_id"`
	Stream    string    `json:"stream"`
	Line      string    `json:"line"`
	CreatedAt time.Time `json:"created_at"`
}

// cursorControlRegex 匹配终端光标定位序列，如 \x1b[1G。
var cursorControlRegex = regexp.MustCompile(`\x1b\[1G`)

// PolishLine 去除日志行中的光标控制序列，其余内容保持不变。
func PolishLine(line string) string {
	return cursorControlRegex.ReplaceAllString(line, "")
}

// RetiredLine 生成日志压缩后的占位行，保留原行数与时间范围。
func RetiredLine(count int64, first, last time.Time) string {
	return fmt.Sprintf("[log retired] %d lines from %s to %s",
		count, first.UTC().Format(time.RFC3339), last.UTC().Format(time.RFC3339))
}
