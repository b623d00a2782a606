package controllers

import (
	"net/http"

	"elt-service/service/sensor"

	"github.com/go-chi/render"
)

// SensorController 传感器状态
type SensorController struct {
	statuses func() []sensor.Status
}

// NewSensorController 创建传感器控制器
func NewSensorController(statuses func() []sensor.Status) *SensorController {
	return &SensorController{statuses: statuses}
}

// List 传感器状态
// @Summary 传感器状态
// @Description 每个被监视位置的状态、最近一次轮询时间与错误
// @Tags 传感器
// @Produce json
// @Success 200 {object} APIResponse{data=[]sensor.Status}
// @Router /sensors [get]
func (c *SensorController) List(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("获取传感器状态成功", c.statuses()))
}
