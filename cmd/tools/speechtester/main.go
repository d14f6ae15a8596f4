package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/carbeez/backend/internal/config"
	"github.com/carbeez/backend/internal/logging"
	"github.com/carbeez/backend/internal/service/speech"
	"github.com/carbeez/backend/internal/storage"
)

func main() {
	logging.Init(logging.Config{Level: "debug", Pretty: true, ServiceName: "speechtester"})
	logger := logging.Component("speechtester")

	if err := godotenv.Load(); err != nil {
		logger.Warn().Err(err).Msg("无法加载 .env，改用系统环境变量")
	}

	mode := flag.String("mode", "", "测试模式: asr 或 tts")
	audioPath := flag.String("audio", "", "ASR 输入音频文件路径")
	text := flag.String("text", "", "TTS 输入文本")
	outputPath := flag.String("out", "", "TTS 输出音频文件路径 (默认自动生成)")
	format := flag.String("format", "", "ASR 输入音频格式，默认按扩展名推断")
	language := flag.String("lang", "", "语言代码，默认使用配置中的语言")
	voice := flag.String("voice", "", "TTS 声音，默认按语言选择")
	session := flag.String("session", "", "自定义 sessionID，留空则自动生成")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")
	flag.Parse()

	if *mode != "asr" && *mode != "tts" {
		flag.Usage()
		logger.Fatal().Msg("请通过 -mode=asr 或 -mode=tts 指定测试模式")
	}

	speechCfg, err := config.LoadSpeech()
	if err != nil {
		logger.Fatal().Err(err).Msg("配置加载失败")
	}
	if !speechCfg.Enabled() {
		logger.Warn().Msg("未配置 SPEECH_API_KEY 或服务账号，请求将返回降级结果")
	}

	modelCfg, err := speech.ModelConfig(speechCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("语音配置无效")
	}
	client, err := speech.NewRESTClient(modelCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("创建语音客户端失败")
	}

	dir, err := os.MkdirTemp("", "speechtester-")
	if err != nil {
		logger.Fatal().Err(err).Msg("创建临时目录失败")
	}
	defer os.RemoveAll(dir)
	store, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: dir})
	if err != nil {
		logger.Fatal().Err(err).Msg("创建临时存储失败")
	}

	svc := speech.NewService(modelCfg, client, store)

	sessionID := *session
	if sessionID == "" {
		sessionID = fmt.Sprintf("manual-%d", time.Now().UnixNano())
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "asr":
		err = runASR(ctx, svc, sessionID, *audioPath, *format, *language)
	case "tts":
		err = runTTS(ctx, svc, sessionID, *text, *voice, *language, *outputPath)
	}
	if err != nil {
		logger.Fatal().Err(err).Str("mode", *mode).Msg("测试失败")
	}
}

func runASR(ctx context.Context, svc *speech.Service, sessionID, audioPath, format, language string) error {
	if audioPath == "" {
		return fmt.Errorf("ASR 模式需要通过 -audio 指定音频文件路径")
	}

	data, err := os.ReadFile(audioPath)
	if err != nil {
		return fmt.Errorf("读取音频文件失败: %w", err)
	}

	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(audioPath)), ".")
	}

	audio, _, err := svc.StoreRecording(ctx, sessionID, data, format, language)
	if err != nil {
		return fmt.Errorf("保存录音失败: %w", err)
	}

	logger := logging.Component("speechtester")
	logger.Info().Str("session", sessionID).Str("format", audio.Format).Int("bytes", len(data)).Msg("开始进行 ASR 测试")

	result := svc.Transcribe(ctx, sessionID, audio)
	if result.Degraded != nil {
		logger.Warn().Str("reason", string(result.Degraded.Reason)).Str("fallback", result.Text).Msg("ASR 降级")
		return nil
	}
	logger.Info().Str("text", result.Text).Float64("confidence", result.Confidence).Str("language", result.Language).Msg("ASR 识别成功")
	return nil
}

func runTTS(ctx context.Context, svc *speech.Service, sessionID, text, voice, language, outputPath string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("TTS 模式需要通过 -text 提供待合成文本")
	}

	logger := logging.Component("speechtester")
	logger.Info().Str("session", sessionID).Str("voice", voice).Msg("开始进行 TTS 测试")

	result := svc.Synthesize(ctx, speech.SynthesisRequest{
		SessionID: sessionID,
		Text:      text,
		Voice:     voice,
		Language:  language,
	})
	if result.Clip == nil {
		if result.Degraded != nil {
			logger.Warn().Str("reason", string(result.Degraded.Reason)).Msg("TTS 降级，只返回文本")
		}
		return nil
	}

	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-output-%d.%s", time.Now().Unix(), result.Clip.Format)
	}
	if err := os.WriteFile(outputPath, result.Clip.Data, 0o644); err != nil {
		return fmt.Errorf("写入音频文件失败: %w", err)
	}

	logger.Info().Str("file", outputPath).Str("voice", result.Clip.Voice).Int64("durationMs", result.Clip.DurationMs).Msg("TTS 合成成功")
	return nil
}
