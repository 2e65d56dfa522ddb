package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/JP-Makers/rs-dbc/base"
	"github.com/JP-Makers/rs-dbc/can"
	"github.com/JP-Makers/rs-dbc/dbc"
	"github.com/JP-Makers/rs-dbc/rwmap"
	"github.com/JP-Makers/rs-dbc/whitelist"
)

func NewRouter(
	cfg *base.HttpServer,
	d *dbc.Dbc,
	wl *whitelist.WhiteList,
	frames *rwmap.RWMap[uint32, can.Frame],
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET(cfg.HealthCheckURI, Pong)
	r.Any(cfg.WhiteListURI, wl.Handler())

	r.GET("/messages", func(c *gin.Context) {
		c.JSON(http.StatusOK, d.Messages)
	})

	r.GET("/messages/:id", func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		msg, ok := d.MessageByFrameID(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such message"})
			return
		}
		c.JSON(http.StatusOK, msg)
	})

	r.GET("/frames/:id", func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		frame, ok := frames.Get(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no frame received"})
			return
		}
		c.JSON(http.StatusOK, frame)
	})

	return r
}

func Pong(c *gin.Context) {
	c.Status(http.StatusOK)
}

func pathID(c *gin.Context) (uint32, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint32(id), true
}
