/*
 * @module api/controllers/config_controller
 * @description 配置管理控制器，提供运行期可调参数（保留天数等）的HTTP接口
 * @architecture RESTful API架构
 * @stateFlow HTTP请求 -> 控制器 -> 配置服务 -> 数据库
 * @rules 遵循RESTful API设计规范
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/render
 * @refs service/config
 */

package controllers

import (
	"net/http"

	"elt-service/service/config"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// ConfigStore 系统配置读写
type ConfigStore interface {
	GetAllSystemConfigs() ([]config.ConfigItem, error)
	GetSystemConfig(key string) (string, error)
	SetSystemConfig(key, value, description string) error
}

// ConfigController 配置控制器
type ConfigController struct {
	store ConfigStore
}

// NewConfigController 创建配置控制器实例
func NewConfigController(store ConfigStore) *ConfigController {
	return &ConfigController{store: store}
}

// GetAllConfigs 获取所有配置
// @Summary 获取所有系统配置
// @Description 获取系统所有配置项，未设置的项返回默认值
// @Tags 系统配置
// @Produce json
// @Success 200 {object} APIResponse{data=[]config.ConfigItem}
// @Router /config [get]
func (c *ConfigController) GetAllConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := c.store.GetAllSystemConfigs()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "获取配置失败")
		return
	}
	render.JSON(w, r, SuccessResponse("获取配置成功", configs))
}

// GetConfig 获取单个配置
// @Summary 获取单个配置
// @Description 根据键名获取配置值
// @Tags 系统配置
// @Produce json
// @Param key path string true "配置键"
// @Success 200 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Router /config/{key} [get]
func (c *ConfigController) GetConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := c.store.GetSystemConfig(key)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "配置项不存在")
		return
	}
	render.JSON(w, r, SuccessResponse("获取配置成功", map[string]interface{}{
		"key":   key,
		"value": value,
	}))
}

// UpdateConfigRequest 更新配置请求
type UpdateConfigRequest struct {
	Value       string `json:"value"`
	Description string `json:"description"`
}

// UpdateConfig 更新配置
// @Summary 更新配置
// @Description 更新指定键的配置值
// @Tags 系统配置
// @Accept json
// @Produce json
// @Param key path string true "配置键"
// @Param request body UpdateConfigRequest true "更新配置请求"
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Router /config/{key} [put]
func (c *ConfigController) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req UpdateConfigRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil || req.Value == "" {
		writeError(w, r, http.StatusBadRequest, "请求参数错误")
		return
	}
	if err := c.store.SetSystemConfig(key, req.Value, req.Description); err != nil {
		writeError(w, r, http.StatusInternalServerError, "更新配置失败")
		return
	}
	render.JSON(w, r, SuccessResponse("更新配置成功", map[string]interface{}{
		"key":   key,
		"value": req.Value,
	}))
}
