package languages

import (
	"sort"
	"strings"

	"github.com/mini-maxit/grader/pkg/constants"
	"github.com/mini-maxit/grader/pkg/errors"
	"github.com/mini-maxit/grader/pkg/messages"
)

type LanguageType int

const (
	CPP LanguageType = iota + 1
	C
	PYTHON
)

func (lt LanguageType) String() string {
	for key, value := range LanguageTypeMap {
		if value == lt {
			return key
		}
	}
	return ""
}

func (lt LanguageType) GetDockerImage(version string) (string, error) {
	switch lt {
	case CPP, C:
		// One gcc image serves every C and C++ standard.
		return constants.RuntimeImagePrefix + "-cpp:latest", nil
	case PYTHON:
		if _, err := GetVersionFlag(lt, version); err != nil {
			return "", err
		}
		return constants.RuntimeImagePrefix + "-python:" + version, nil
	default:
		return "", errors.ErrInvalidLanguageType
	}
}

// SourceFileName is the name the submission source is stored under in the sandbox.
func (lt LanguageType) SourceFileName() (string, error) {
	ext, ok := LanguageExtensionMap[lt]
	if !ok {
		return "", errors.ErrInvalidLanguageType
	}
	return constants.SolutionFileBaseName + "." + ext, nil
}

// GetCompileCommand returns the build command for compiled languages, run inside
// the sandbox work directory. Scripting languages return a nil command.
func (lt LanguageType) GetCompileCommand(version string) ([]string, error) {
	flag, err := GetVersionFlag(lt, version)
	if err != nil {
		return nil, err
	}
	src, err := lt.SourceFileName()
	if err != nil {
		return nil, err
	}
	switch lt {
	case CPP:
		return []string{"g++", "-O2", "-std=" + flag, "-o", constants.SolutionFileBaseName, src}, nil
	case C:
		return []string{"gcc", "-O2", "-std=" + flag, "-o", constants.SolutionFileBaseName, src, "-lm"}, nil
	case PYTHON:
		return nil, nil
	default:
		return nil, errors.ErrInvalidLanguageType
	}
}

// GetRunCommand returns the command that executes the built artifact.
func (lt LanguageType) GetRunCommand(version string) ([]string, error) {
	switch lt {
	case CPP, C:
		return []string{"./" + constants.SolutionFileBaseName}, nil
	case PYTHON:
		flag, err := GetVersionFlag(lt, version)
		if err != nil {
			return nil, err
		}
		src, _ := lt.SourceFileName()
		return []string{flag, src}, nil
	default:
		return nil, errors.ErrInvalidLanguageType
	}
}

var LanguageTypeMap = map[string]LanguageType{
	"CPP":    CPP,
	"C":      C,
	"PYTHON": PYTHON,
}

var LanguageExtensionMap = map[LanguageType]string{
	CPP:    "cpp",
	C:      "c",
	PYTHON: "py",
}

var LanguageVersionMap = map[LanguageType]map[string]string{
	CPP: {
		"11": "c++11",
		"14": "c++14",
		"17": "c++17",
		"20": "c++20",
	},
	C: {
		"99": "c99",
		"11": "c11",
		"17": "c17",
	},
	PYTHON: {
		"3": "python3",
	},
}

func GetVersionFlag(language LanguageType, version string) (string, error) {
	if versions, ok := LanguageVersionMap[language]; ok {
		if flag, ok := versions[version]; ok {
			return flag, nil
		}
		return "", errors.ErrInvalidVersion
	}
	return "", errors.ErrInvalidLanguageType
}

func GetSupportedLanguages() []string {
	languages := make([]string, 0, len(LanguageTypeMap))
	for lang := range LanguageTypeMap {
		languages = append(languages, lang)
	}
	sort.Strings(languages)
	return languages
}

func ParseLanguageType(s string) (LanguageType, error) {
	if lt, ok := LanguageTypeMap[strings.ToUpper(s)]; ok {
		return lt, nil
	}
	return 0, errors.ErrInvalidLanguageType
}

func GetSupportedLanguagesWithVersions() messages.ResponseHandshakePayload {
	supportedLanguages := make([]messages.LanguageSpec, 0, len(LanguageTypeMap))
	for _, langName := range GetSupportedLanguages() {
		langType := LanguageTypeMap[langName]

		versionList := make([]string, 0, len(LanguageVersionMap[langType]))
		for version := range LanguageVersionMap[langType] {
			versionList = append(versionList, version)
		}
		sort.Strings(versionList)

		supportedLanguages = append(supportedLanguages, messages.LanguageSpec{
			LanguageName: langName,
			Versions:     versionList,
			Extension:    LanguageExtensionMap[langType],
		})
	}
	return messages.ResponseHandshakePayload{
		Languages: supportedLanguages,
	}
}
