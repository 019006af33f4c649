package domain

import (
	"path/filepath"
	"strings"
)

// APKSuffix 原始安装包后缀
const APKSuffix = ".apk"

// ExtractedAPKsDirName 解包输出目录的约定名称
const ExtractedAPKsDirName = "Extracted_APKs"

// Package 待处理的安装包
type Package struct {
	Path string // 绝对路径
	Name string // 去掉 .apk 后缀的文件名
}

// NewPackage 根据文件路径创建 Package
func NewPackage(path string) Package {
	base := filepath.Base(path)
	return Package{
		Path: path,
		Name: strings.TrimSuffix(base, APKSuffix),
	}
}

// IsAPK 判断文件名是否为安装包
func IsAPK(name string) bool {
	return strings.HasSuffix(name, APKSuffix)
}
