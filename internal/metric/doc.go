// Package metric implements the scoring metrics shared by every track.
//
// Classification metrics (pixel accuracy, F1, IoU) and pairwise similarity
// metrics (MSE, PSNR, SSIM) are computed in-process over imageio rasters.
// LPIPS and FID depend on pretrained networks and are delegated to external
// helpers: Network keeps one LPIPS helper process alive for the lifetime of
// the daemon, and FIDCommand runs pytorch-fid once per folder pair.
//
// Every function is a pure function of its inputs; the only long-lived state
// is the Network process, which callers start and close explicitly.
package metric
