package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/vmihailenco/msgpack/v5"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/idgend/clog"
	"github.com/ceyewan/idgend/idgen"
	"github.com/ceyewan/idgend/trace"
	"github.com/ceyewan/idgend/xerrors"
)

// MIMEMsgPack msgpack 响应类型
const MIMEMsgPack = "application/x-msgpack"

const (
	formatString = "string"
	formatBase58 = "base58"
)

type errorBody struct {
	Error string `json:"error" msgpack:"error"`
}

type nextResponse struct {
	IDs any `json:"ids" msgpack:"ids"`
}

type parseResponse struct {
	ID string `json:"id" msgpack:"id"`
	idgen.Parts
	Base58 string    `json:"base58" msgpack:"base58"`
	Time   time.Time `json:"time" msgpack:"time"`
}

// next 处理 /next 和 /next/:count
func (s *Server) next(c *gin.Context) {
	ctx := c.Request.Context()

	n := 1
	if raw := c.Param("count"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > s.cfg.MaxBatch {
			s.render(c, http.StatusBadRequest, errorBody{
				Error: "count must be an integer in [1, " + strconv.Itoa(s.cfg.MaxBatch) + "]",
			})
			return
		}
		n = v
	}

	format := c.Query("format")
	switch format {
	case "", formatString, formatBase58:
	default:
		s.render(c, http.StatusBadRequest, errorBody{Error: "unsupported format " + strconv.Quote(format)})
		return
	}

	oteltrace.SpanFromContext(ctx).SetAttributes(
		attribute.Int(trace.AttrIDCount, n),
		attribute.Int64(trace.AttrNodeID, s.gen.NodeID()),
	)

	ids, err := s.gen.NextN(n)
	if err != nil {
		s.fail(ctx, c, err)
		return
	}
	s.render(c, http.StatusOK, nextResponse{IDs: encodeIDs(ids, format)})
}

func encodeIDs(ids []int64, format string) any {
	switch format {
	case formatString:
		out := make([]string, len(ids))
		for i, id := range ids {
			out[i] = strconv.FormatInt(id, 10)
		}
		return out
	case formatBase58:
		out := make([]string, len(ids))
		for i, id := range ids {
			out[i] = snowflake.ID(id).Base58()
		}
		return out
	default:
		return ids
	}
}

// parse 拆解十进制或 Base58 形式的 ID。全数字的输入按十进制解析。
func (s *Server) parse(c *gin.Context) {
	raw := strings.TrimSpace(c.Param("id"))
	id, err := parseID(raw)
	if err != nil {
		s.render(c, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	parts := idgen.Decompose(id)
	s.render(c, http.StatusOK, parseResponse{
		ID:     strconv.FormatInt(id, 10),
		Parts:  parts,
		Base58: snowflake.ID(id).Base58(),
		Time:   parts.Time().UTC(),
	})
}

func parseID(raw string) (int64, error) {
	if raw == "" {
		return 0, xerrors.Invalidf("empty id")
	}
	if isDigits(raw) {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, xerrors.Invalidf("id %q out of range", raw)
		}
		return id, nil
	}
	sid, err := snowflake.ParseBase58([]byte(raw))
	if err != nil || sid < 0 {
		return 0, xerrors.Invalidf("id %q is neither decimal nor base58", raw)
	}
	return sid.Int64(), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (s *Server) healthz(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.gen.Fenced(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "fenced", "error": err.Error()})
		return
	}
	for _, check := range s.checks {
		if err := check(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "node_id": s.gen.NodeID()})
}

func (s *Server) fail(ctx context.Context, c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(ctx, "failed to generate ids", clog.Error(err))
	}
	s.render(c, status, errorBody{Error: err.Error()})
}

// statusOf 将生成器错误映射为 HTTP 状态码，时钟回拨等其余错误为 500
func statusOf(err error) int {
	switch {
	case xerrors.Is(err, idgen.ErrInvalidInput):
		return http.StatusBadRequest
	case xerrors.Is(err, idgen.ErrSlotLost):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// render 按 Accept 选择 JSON 或 msgpack
func (s *Server) render(c *gin.Context, status int, body any) {
	if c.NegotiateFormat(gin.MIMEJSON, MIMEMsgPack) != MIMEMsgPack {
		c.JSON(status, body)
		return
	}
	data, err := msgpack.Marshal(body)
	if err != nil {
		s.logger.ErrorContext(c.Request.Context(), "failed to encode msgpack", clog.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody{Error: "encode response"})
		return
	}
	c.Data(status, MIMEMsgPack, data)
}
