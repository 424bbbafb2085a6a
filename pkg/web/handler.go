package web

import (
	"errors"
	"github.com/gin-gonic/gin"
	"io/fs"
	"k8s.io/klog/v2"
	"net/http"
	"strconv"
	"t7stream/pkg/apis/response"
	"t7stream/pkg/calibration"
	"t7stream/pkg/device"
	"t7stream/pkg/generic"
	"t7stream/pkg/sink"
	"t7stream/pkg/stream"
)

// Info is the static part of a session, fixed before streaming starts.
type Info struct {
	Address           string                         `json:"address"`
	Stream            *device.StreamConfig           `json:"stream"`
	Channels          []device.Channel               `json:"inputs"`
	Calibration       *calibration.DeviceCalibration `json:"-"`
	CalibrationSource string                         `json:"calibrationSource"`
}

type Config struct {
	Port     string
	CertFile string
	KeyFile  string
	Monitor  *stream.Monitor
	// Hub serves live scans, nil disables /scans.
	Hub  *sink.Hub
	Info *Info
	// Archive holds the Records of earlier sessions, nil disables /sessions.
	Archive *generic.Store
}

// Record is what is archived for a finished session.
type Record struct {
	*Info
	Session stream.Snapshot `json:"session"`
	Report  *stream.Report  `json:"report,omitempty"`
}

type sessionView struct {
	*Info
	stream.Snapshot
}

func InstallHandler(group *gin.RouterGroup, c *Config) {
	group.GET("/session", getSession(c))
	group.GET("/session/channels/:ain", getChannel(c))
	group.GET("/calibration", getCalibration(c))
	group.GET("/scans", watchScans(c))
	group.GET("/sessions", listSessions(c))
	group.GET("/sessions/:id", getArchivedSession(c))
}

func getSession(c *Config) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		snap := c.Monitor.Snapshot()
		if snap.StartedAt.IsZero() {
			ctx.JSON(http.StatusServiceUnavailable, response.NewMultiError(response.ErrSessionNotStarted))
			return
		}
		info := c.Info
		if info == nil {
			info = &Info{}
		}
		ctx.JSON(http.StatusOK, sessionView{Info: info, Snapshot: snap})
	}
}

func getChannel(c *Config) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		param := ctx.Param("ain")
		ain, err := strconv.ParseUint(param, 10, 16)
		if err != nil {
			klog.V(4).InfoS("Failed to parse channel", "ain", param, "err", err)
			ctx.JSON(http.StatusBadRequest, response.NewMultiError(response.ErrChannelNotFound(param)))
			return
		}
		address := device.ScanListAddress(uint16(ain))
		for _, st := range c.Monitor.Snapshot().Channels {
			if st.Address == address {
				ctx.JSON(http.StatusOK, st)
				return
			}
		}
		ctx.JSON(http.StatusNotFound, response.NewMultiError(response.ErrChannelNotFound(param)))
	}
}

func getCalibration(c *Config) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if c.Info == nil || c.Info.Calibration == nil {
			ctx.JSON(http.StatusServiceUnavailable, response.NewMultiError(response.ErrSessionNotStarted))
			return
		}
		ctx.JSON(http.StatusOK, gin.H{
			"source":      c.Info.CalibrationSource,
			"calibration": c.Info.Calibration,
		})
	}
}

func watchScans(c *Config) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if c.Hub == nil {
			ctx.JSON(http.StatusNotFound, response.NewMultiError(response.ErrStreamUnavailable))
			return
		}
		c.Hub.ServeHTTP(ctx.Writer, ctx.Request)
	}
}

func listSessions(c *Config) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if c.Archive == nil {
			ctx.JSON(http.StatusNotFound, response.NewMultiError(response.ErrArchiveUnavailable))
			return
		}
		ids, err := c.Archive.List()
		if err != nil {
			klog.V(2).InfoS("Failed to list sessions", "err", err)
			ctx.JSON(http.StatusInternalServerError, response.NewMultiError(response.ErrArchiveUnavailable))
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"sessions": ids})
	}
}

func getArchivedSession(c *Config) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if c.Archive == nil {
			ctx.JSON(http.StatusNotFound, response.NewMultiError(response.ErrArchiveUnavailable))
			return
		}
		id := ctx.Param("id")
		record := &Record{}
		if err := c.Archive.Load(id, record); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				ctx.JSON(http.StatusNotFound, response.NewMultiError(response.ErrSessionNotFound(id)))
				return
			}
			klog.V(2).InfoS("Failed to load session", "id", id, "err", err)
			ctx.JSON(http.StatusBadRequest, response.NewMultiError(response.ErrSessionNotFound(id)))
			return
		}
		ctx.JSON(http.StatusOK, record)
	}
}
