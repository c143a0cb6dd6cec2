// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package action

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"text/template"

	"github.com/pkg/errors"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/alert"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/strategy"
)

// Context 模板渲染上下文 纯值对象 不携带任何连接
type Context struct {
	Alerts      []*alert.Alert
	Action      *strategy.ActionConfig
	Business    int
	UserContent string
	NoticeWay   string
}

// FirstAlert 模板里最常引用的告警
func (c *Context) FirstAlert() *alert.Alert {
	if len(c.Alerts) == 0 {
		return &alert.Alert{}
	}
	return c.Alerts[0]
}

const (
	defaultTitleTpl   = `【{{.Business}}】{{.FirstAlert.AlertName}}`
	defaultContentTpl = `告警名称: {{.FirstAlert.AlertName}}
告警级别: {{.FirstAlert.Severity}}
告警目标: {{.FirstAlert.Target}}
告警内容: {{.FirstAlert.Description}}`
)

// Renderer 按 notice/<signal>/action/<way>_title.tmpl 布局加载模板
// 目录缺失或模板缺失时回退内置模板 渲染永远有产出
type Renderer struct {
	root string

	mut   sync.Mutex
	cache map[string]*template.Template
}

func NewRenderer(root string) *Renderer {
	return &Renderer{root: root, cache: make(map[string]*template.Template)}
}

func (r *Renderer) lookup(relPath, fallback string) (*template.Template, error) {
	r.mut.Lock()
	defer r.mut.Unlock()
	if tpl, ok := r.cache[relPath]; ok {
		return tpl, nil
	}

	content := fallback
	raw, err := os.ReadFile(filepath.Join(r.root, relPath))
	if err == nil {
		content = string(raw)
	}

	tpl, err := template.New(relPath).Parse(content)
	if err != nil {
		return nil, errors.Wrapf(err, "parse template [%s] failed", relPath)
	}
	r.cache[relPath] = tpl
	return tpl, nil
}

func (r *Renderer) execute(tpl *template.Template, ctx *Context) (string, error) {
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, ctx); err != nil {
		return "", errors.Wrapf(err, "execute template [%s] failed", tpl.Name())
	}
	return buf.String(), nil
}

// Render 渲染单个notice_way的标题与内容
func (r *Renderer) Render(signal string, ctx *Context) (Rendered, error) {
	msgType := MsgTypeOf(ctx.NoticeWay)
	titlePath := filepath.Join("notice", signal, "action", fmt.Sprintf("%s_title.tmpl", ctx.NoticeWay))
	contentPath := filepath.Join("notice", signal, "action", fmt.Sprintf("%s_%s_content.tmpl", ctx.NoticeWay, msgType))

	titleTpl, err := r.lookup(titlePath, defaultTitleTpl)
	if err != nil {
		return Rendered{}, err
	}
	contentTpl, err := r.lookup(contentPath, defaultContentTpl)
	if err != nil {
		return Rendered{}, err
	}

	title, err := r.execute(titleTpl, ctx)
	if err != nil {
		return Rendered{}, err
	}
	content, err := r.execute(contentTpl, ctx)
	if err != nil {
		return Rendered{}, err
	}
	return Rendered{Title: title, Content: content, NoticeWay: ctx.NoticeWay, MsgType: msgType}, nil
}
