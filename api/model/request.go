package model

import (
	"mime/multipart"
)

// 分页请求参数
type PaginationRequest struct {
	Page     int `form:"page" json:"page" binding:"omitempty,min=1"`           // 当前页码，从1开始
	PageSize int `form:"page_size" json:"page_size" binding:"omitempty,min=1"` // 每页记录数
}

// GetPage 获取页码，默认为1
func (p *PaginationRequest) GetPage() int {
	if p.Page <= 0 {
		return 1
	}
	return p.Page
}

// GetPageSize 获取每页记录数，默认为10，最大为100
func (p *PaginationRequest) GetPageSize() int {
	if p.PageSize <= 0 {
		return 10
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// Offset 计算偏移量
func (p *PaginationRequest) Offset() int {
	return (p.GetPage() - 1) * p.GetPageSize()
}

// DocumentUploadRequest 文档上传请求
type DocumentUploadRequest struct {
	File     *multipart.FileHeader `form:"file" binding:"required"`     // 文件对象
	Metadata string                `form:"metadata"`                    // JSON对象形式的元数据
	Async    bool                  `form:"async"`                       // 是否异步处理
	Wait     int                   `form:"wait" binding:"min=0,max=60"` // 异步处理时等待任务结束的秒数
}

// DocumentIDRequest 路径中的文档ID
type DocumentIDRequest struct {
	ID string `uri:"id" binding:"required"`
}

// DocumentGetRequest 文档详情请求
type DocumentGetRequest struct {
	IncludeContent bool `form:"include_content"` // 是否返回已索引的内容
}

// DocumentListRequest 文档列表请求
type DocumentListRequest struct {
	PaginationRequest
	Status   string `form:"status" binding:"omitempty,oneof=uploaded queued processing indexed failed"` // 记录状态
	FileName string `form:"file_name"`                                                                // 文件名模糊匹配
	Strategy string `form:"strategy" binding:"omitempty,oneof=direct chunked"`                         // 处理策略
}

// Filters 转换为仓储查询条件
func (r *DocumentListRequest) Filters() map[string]interface{} {
	filters := make(map[string]interface{})
	if r.Status != "" {
		filters["status"] = r.Status
	}
	if r.FileName != "" {
		filters["file_name"] = r.FileName
	}
	if r.Strategy != "" {
		filters["strategy"] = r.Strategy
	}
	return filters
}

// SearchRequest 检索请求
type SearchRequest struct {
	Query string `form:"q" binding:"required"`                    // 检索关键词
	Limit int    `form:"limit" binding:"omitempty,min=1,max=100"` // 返回数量，默认10
}

// GetLimit 获取返回数量，默认为10
func (r *SearchRequest) GetLimit() int {
	if r.Limit <= 0 {
		return 10
	}
	return r.Limit
}
