package workflow

import (
	"strings"
)

// RenderTemplate 渲染含占位符的模板字符串（对外导出）
// 将 ${path} 形式的占位符替换为上下文中的值，path支持点号路径；
// 找不到的占位符原样保留，同时返回未替换的占位符列表
func RenderTemplate(template string, ctx map[string]any) (string, []string) {
	var (
		b          strings.Builder
		unreplaced []string
	)

	rest := template
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += start

		b.WriteString(rest[:start])
		path := rest[start+2 : end]
		if value, found := LookupField(ctx, path); found {
			b.WriteString(toString(value))
		} else {
			b.WriteString(rest[start : end+1])
			unreplaced = append(unreplaced, path)
		}
		rest = rest[end+1:]
	}

	return b.String(), unreplaced
}
