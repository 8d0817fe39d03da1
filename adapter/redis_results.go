package adapter

import "github.com/tidwall/redcon"

type resultType int

const (
	resultNil resultType = iota
	resultBulk
	resultString
	resultArray
	resultInt
)

type redisResult struct {
	typ     resultType
	bulk    []byte
	str     string
	arr     []string
	integer int64
}

func okResult() redisResult { return redisResult{typ: resultString, str: "OK"} }

func intResult(i int64) redisResult { return redisResult{typ: resultInt, integer: i} }

func boolResult(b bool) redisResult {
	if b {
		return intResult(1)
	}
	return intResult(0)
}

func writeResult(conn redcon.Conn, res redisResult) {
	switch res.typ {
	case resultNil:
		conn.WriteNull()
	case resultBulk:
		conn.WriteBulk(res.bulk)
	case resultString:
		conn.WriteString(res.str)
	case resultArray:
		conn.WriteArray(len(res.arr))
		for _, s := range res.arr {
			conn.WriteBulkString(s)
		}
	case resultInt:
		conn.WriteInt64(res.integer)
	default:
		conn.WriteNull()
	}
}
