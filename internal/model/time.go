package model

import (
	"fmt"
	"time"
)

// LocalTime 在 JSON 序列化时输出 "YYYY-MM-DD HH:MM:SS" 格式的本地时间。
type LocalTime time.Time

const localTimeLayout = "2006-01-02 15:04:05"

// MarshalJSON 实现 json.Marshaler 接口。
func (t LocalTime) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", time.Time(t).Format(localTimeLayout))), nil
}

// String 返回格式化后的时间字符串。
func (t LocalTime) String() string {
	return time.Time(t).Format(localTimeLayout)
}
